package sqlinline

const QInsertThumbnail = `--sql f90c04a9-091d-4981-b098-0724d835c5fd
insert into thumbnails (user_input, reference_image_url, face_image_url, thumbnail_url, user_email, created_at, updated_at)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::bigint, $7::bigint)
returning id;
`

const QListThumbnailsByOwner = `--sql 00b6da43-6a0c-4691-81a7-b4d87459f245
select id, user_input, reference_image_url, face_image_url, thumbnail_url, user_email, created_at, updated_at
from thumbnails
where user_email = $1::text
order by created_at desc, id desc;
`

const QInsertContentPackage = `--sql 5263a7d7-6cd5-4d25-8478-2cd1dc3412a8
insert into content_packages (user_input, title, description, tags, thumbnails, user_email, created_at, updated_at)
values ($1::text, $2::jsonb, $3::text, $4::jsonb, $5::text, $6::text, $7::bigint, $8::bigint)
returning id;
`

const QListContentPackagesByOwner = `--sql 6ad40321-fb0b-407e-8f28-10b8b0c87e6d
select id, user_input, title::text, description, tags::text, thumbnails, user_email, created_at, updated_at
from content_packages
where user_email = $1::text
order by created_at desc, id desc;
`
