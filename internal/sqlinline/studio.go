package sqlinline

const QSelectStudioPolicy = `--sql 99384ee4-2e5a-4276-af33-5c4c1fd58d0e
select coalesce(prompt_policy_text, '')
from studio_settings
order by updated_at desc
limit 1;
`

const QSelectProject = `--sql c19bbcf6-0901-484a-9f18-1e246e1e6300
select id, title, coalesce(prompt, ''), coalesce(customer_ids, '{}'), coalesce(model_ids, '{}'), coalesce(scene_asset_id, '')
from projects
where id = $1::text;
`

const QSelectCustomersByIDs = `--sql 0a3d9155-050a-4f10-97c7-f9bedf405640
select id, name, coalesce(role, ''), coalesce(age, ''), coalesce(notes, '')
from customers
where id = any($1::text[])
order by array_position($1::text[], id);
`

const QSelectCastModelsByIDs = `--sql 216627cb-6c05-4a5a-b328-64c948e28979
select id, name, coalesce(role, ''), coalesce(identity_description, ''), coalesce(reference_images, '{}')
from cast_models
where id = any($1::text[])
order by array_position($1::text[], id);
`

const QSelectSceneAsset = `--sql c25582d9-7002-41c6-a5d3-eeccf4aa9db5
select id, name, coalesce(description, ''), coalesce(style, ''), coalesce(lighting, ''), coalesce(props, ''),
    coalesce(reference_images, '{}'), primary_image_path, current_artifact_id::text
from scene_assets
where id = $1::text;
`

const QSelectPlanVersion = `--sql 84278f38-7a45-40d2-b609-463b5694150a
select id::text, project_id, version, scenes, created_at
from project_plan_versions
where id = $1::uuid;
`

// QInsertPlanVersion allocates the next version number for the project.
const QInsertPlanVersion = `--sql 1990fea3-1ede-4031-a88a-07aa9943bb17
insert into project_plan_versions (id, project_id, version, scenes, created_at)
select $1::uuid, $2::text, coalesce(max(version), 0) + 1, $3::jsonb, now()
from project_plan_versions
where project_id = $2::text
returning version, created_at;
`
