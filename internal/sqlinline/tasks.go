package sqlinline

const QInsertTask = `--sql b7242323-6393-49f0-83b2-5aa7a5294b5e
insert into tasks (id, type, status, input, related_id, related_meta, created_at, updated_at)
values ($1::uuid, $2::text, 'pending', $3::jsonb, $4::text, $5::text, now(), now())
returning created_at, updated_at;
`

const QSelectTaskByID = `--sql ca09a98c-d6fe-43f6-b40b-3faaffb5edb7
select id::text, type, status, input, output, error, related_id, related_meta, created_at, updated_at
from tasks
where id = $1::uuid;
`

// QClaimNextTask moves the oldest pending task to running in one statement.
const QClaimNextTask = `--sql 329fc3f7-1686-43f7-9014-bcca17589352
with next_task as (
    select id
    from tasks
    where status = 'pending'
    order by created_at asc, id asc
    for update skip locked
    limit 1
),
updated as (
    update tasks
    set status = 'running', updated_at = now()
    where id in (select id from next_task)
    returning id::text, type, status, input, output, error, related_id, related_meta, created_at, updated_at
)
select * from updated;
`

const QCompleteTask = `--sql 7240b4e0-2380-466e-af77-5720a743bd7d
update tasks
set status = 'completed', output = $2::jsonb, error = null, updated_at = now()
where id = $1::uuid;
`

const QFailTask = `--sql 5fda5a62-8a1b-44d2-ac95-8e740e2cc890
update tasks
set status = 'failed', error = $2::text, output = null, updated_at = now()
where id = $1::uuid;
`

const QFailRunningTasks = `--sql 5bcef8e0-75c3-4fbf-88be-c30f5ff1f2cb
update tasks
set status = 'failed', error = $1::text, output = null, updated_at = now()
where status = 'running';
`

const QResetFailedTask = `--sql 2c88ad0c-12d9-4a7c-ba13-c2c8c6e5e299
update tasks
set status = 'pending', output = null, error = null, updated_at = now()
where id = $1::uuid
  and status = 'failed';
`

const QDeleteIdleTask = `--sql 5734c988-e03b-452d-b9d6-52b71f664c8b
delete from tasks
where id = $1::uuid
  and status <> 'running';
`

const QSelectTaskStatus = `--sql ba182d41-1768-45d3-aefd-99cd2f8d62c7
select status
from tasks
where id = $1::uuid;
`

// QListTasksMarker prefixes the dynamically built task listing.
const QListTasksMarker = `--sql 58f14a0e-1c57-43f2-b575-01318fd1eb2e`
