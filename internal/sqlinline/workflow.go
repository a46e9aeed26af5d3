package sqlinline

const QInsertRun = `--sql 7b6af098-4195-4395-ab5e-419b993880c4
insert into workflow_runs (id, function_id, event_name, payload, status, attempt, max_retries, available_at, created_at, updated_at)
values ($1::text, $2::text, $3::text, $4::jsonb, 'Running', 0, $5::int, now(), now(), now());
`

// QClaimRun leases the oldest runnable run. A run whose lease has expired is
// claimable again, which is how work abandoned by a dead worker resumes.
const QClaimRun = `--sql 8d2368d1-2d9f-4241-948d-411a01a97c28
with next_run as (
    select id
    from workflow_runs
    where status = 'Running'
      and available_at <= now()
      and (lease_until is null or lease_until < now())
    order by created_at asc
    for update skip locked
    limit 1
)
update workflow_runs
set lease_owner = $1::text,
    lease_until = now() + ($2::bigint * interval '1 millisecond'),
    attempt = attempt + 1,
    updated_at = now()
where id in (select id from next_run)
returning id, function_id, event_name, payload, attempt, max_retries;
`

// QRenewLease extends the lease of the worker that still holds it.
const QRenewLease = `--sql df4d33cc-fe32-48ee-8589-ccebd13fe875
update workflow_runs
set lease_until = now() + ($3::bigint * interval '1 millisecond'),
    updated_at = now()
where id = $1::text
  and status = 'Running'
  and lease_owner = $2::text;
`

const QReleaseRun = `--sql b7f4246e-2b27-439f-812a-072a17e5de05
update workflow_runs
set lease_owner = null,
    lease_until = null,
    available_at = now() + ($2::bigint * interval '1 millisecond'),
    error = $3::text,
    updated_at = now()
where id = $1::text
  and status = 'Running'
  and lease_owner = $4::text;
`

const QFinishRun = `--sql 1ac4d9e1-a6ac-4b8f-8f83-749758554fdc
update workflow_runs
set status = $2::text,
    output = $3::jsonb,
    error = $4::text,
    lease_owner = null,
    lease_until = null,
    updated_at = now()
where id = $1::text
  and status = 'Running'
  and lease_owner = $5::text;
`

const QCancelRun = `--sql eb7c4fdb-ba74-4361-ae09-0b7c5c18808b
update workflow_runs
set status = 'Cancelled',
    error = 'cancelled by operator',
    updated_at = now()
where id = $1::text
  and status = 'Running';
`

const QSelectRun = `--sql e90133cc-3c90-4235-a884-28ac6d5b9c97
select id, function_id, event_name, payload, status, output, error, attempt, created_at, updated_at
from workflow_runs
where id = $1::text;
`

const QSelectRunStatus = `--sql cf365342-f0fa-47bf-bb0d-85a9bd582fb3
select status
from workflow_runs
where id = $1::text;
`

const QSelectRunLease = `--sql 5fece8b0-163d-4082-a3d1-d61b51c1ded3
select status, coalesce(lease_owner, '')
from workflow_runs
where id = $1::text;
`

const QSelectRunSteps = `--sql a3d575ed-effe-4a8e-a5c5-ba54ff37dc1c
select step_name, status, output, error, attempt, updated_at
from workflow_steps
where run_id = $1::text
order by seq asc;
`

const QSelectStep = `--sql a090199b-0825-491b-8987-e5d1672fa1af
select step_name, status, output, error, attempt, updated_at
from workflow_steps
where run_id = $1::text
  and step_name = $2::text;
`

// QUpsertStep never overwrites a Succeeded record and writes nothing unless
// $7 still holds the run lease.
const QUpsertStep = `--sql 2e2e109c-f1f4-4628-943f-0248b3ab9a1e
insert into workflow_steps (run_id, step_name, status, output, error, attempt, updated_at)
select $1::text, $2::text, $3::text, $4::jsonb, $5::text, $6::int, now()
where exists (
    select 1 from workflow_runs where id = $1::text and lease_owner = $7::text
)
on conflict (run_id, step_name) do update set
    status = excluded.status,
    output = excluded.output,
    error = excluded.error,
    attempt = excluded.attempt,
    updated_at = now()
where workflow_steps.status <> 'Succeeded';
`
