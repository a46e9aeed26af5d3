package sqlinline

// QSchema creates every table the API and workers rely on. Statements are
// idempotent so the api binary can apply it on each boot with -migrate.
const QSchema = `--sql 242d71cd-aa4a-4774-b6c1-b7a3e510737b
create extension if not exists pgcrypto;

create table if not exists workflow_runs (
    id            text primary key,
    function_id   text not null,
    event_name    text not null,
    payload       jsonb not null default '{}'::jsonb,
    status        text not null default 'Running',
    output        jsonb,
    error         text not null default '',
    attempt       integer not null default 0,
    max_retries   integer not null default 0,
    lease_owner   text,
    lease_until   timestamptz,
    available_at  timestamptz not null default now(),
    created_at    timestamptz not null default now(),
    updated_at    timestamptz not null default now()
);

create index if not exists workflow_runs_claim_idx
    on workflow_runs (status, available_at, created_at);

create table if not exists workflow_steps (
    seq         bigserial,
    run_id      text not null references workflow_runs (id) on delete cascade,
    step_name   text not null,
    status      text not null,
    output      jsonb,
    error       text not null default '',
    attempt     integer not null default 1,
    updated_at  timestamptz not null default now(),
    primary key (run_id, step_name)
);

create table if not exists thumbnails (
    id                   bigserial primary key,
    user_input           text not null,
    reference_image_url  text,
    face_image_url       text,
    thumbnail_url        text not null,
    user_email           text not null,
    created_at           bigint not null,
    updated_at           bigint not null
);

create index if not exists thumbnails_owner_idx on thumbnails (user_email, created_at desc);

create table if not exists content_packages (
    id           bigserial primary key,
    user_input   text not null,
    title        jsonb not null,
    description  text not null,
    tags         jsonb not null,
    thumbnails   text not null,
    user_email   text not null,
    created_at   bigint not null,
    updated_at   bigint not null
);

create index if not exists content_packages_owner_idx on content_packages (user_email, created_at desc);

create table if not exists provider_keys (
    provider    text primary key,
    api_key     text not null,
    rotated_by  text not null default '',
    rotated_at  timestamptz not null default now()
);
`
