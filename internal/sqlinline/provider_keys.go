package sqlinline

const QSelectProviderKey = `--sql 95b7f3ba-c32e-431c-ab17-50c58c9440b7
select api_key
from provider_keys
where provider = $1::text;
`

// QRotateProviderKey replaces the key and records who rotated it.
const QRotateProviderKey = `--sql 5a261ecd-6cd5-4237-ba16-655e563028c4
insert into provider_keys (provider, api_key, rotated_by, rotated_at)
values ($1::text, $2::text, $3::text, now())
on conflict (provider) do update set
    api_key = excluded.api_key,
    rotated_by = excluded.rotated_by,
    rotated_at = excluded.rotated_at;
`
