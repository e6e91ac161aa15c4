package sqlinline

const QInsertArtifact = `--sql efb09d43-ff44-4780-addb-b8ba5ba5755e
insert into generation_artifacts (
    id, run_id, type, mime_type, file_path, width, height, size_bytes,
    owner_type, owner_id, owner_slot, effective_prompt, render_prompt,
    prompt_context, reference_images, edit_instruction, parent_artifact_id, created_at
)
values (
    $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::int, $7::int, $8::bigint,
    $9::text, $10::text, $11::text, $12::text, $13::text,
    coalesce($14::jsonb, '{}'::jsonb), coalesce($15::jsonb, '[]'::jsonb), $16::text, $17::uuid, now()
)
returning created_at;
`

const artifactColumns = `id::text, run_id, type, mime_type, file_path, width, height, size_bytes,
    owner_type, owner_id, owner_slot, effective_prompt, render_prompt,
    prompt_context, reference_images, edit_instruction, parent_artifact_id::text, created_at, deleted_at`

const QSelectArtifactByID = `--sql 621d03d6-fcf5-4add-a434-985afa85c138
select ` + artifactColumns + `
from generation_artifacts
where id = $1::uuid;
`

const QSelectArtifactsByOwner = `--sql 35a044fd-85af-4ff8-a61f-e4e775197a67
select ` + artifactColumns + `
from generation_artifacts
where owner_type = $1::text
  and owner_id = $2::text
  and owner_slot = $3::text
  and ($4::boolean or deleted_at is null)
order by created_at desc, id desc;
`

const QSelectLatestLiveArtifact = `--sql 56cf6f37-da66-4ca9-b4c0-9a9f06f99e88
select ` + artifactColumns + `
from generation_artifacts
where owner_type = $1::text
  and owner_id = $2::text
  and owner_slot = $3::text
  and deleted_at is null
order by created_at desc, id desc
limit 1;
`

const QSoftDeleteArtifact = `--sql da7971fd-1750-426c-aa6e-77e56faf5db5
update generation_artifacts
set deleted_at = $2::timestamptz
where id = $1::uuid
  and deleted_at is null;
`

const QSelectDeletedArtifacts = `--sql 34e13ee3-448f-411f-85ec-a4c3253455c2
select ` + artifactColumns + `
from generation_artifacts
where deleted_at is not null
order by deleted_at asc;
`

const QPurgeArtifact = `--sql 1d6f1320-fd88-4ae5-b158-086cf8c0d294
delete from generation_artifacts
where id = $1::uuid
  and deleted_at is not null;
`

const QSelectAssetCurrentPointer = `--sql 715b11c4-b71a-4143-8738-1801551889aa
select current_artifact_id::text, primary_image_path
from scene_assets
where id = $1::text
for update;
`

const QUpdateAssetCurrentPointer = `--sql e3d304b5-ece1-4f19-b7e4-43f4934631f4
update scene_assets
set current_artifact_id = $2::uuid, primary_image_path = $3::text, updated_at = now()
where id = $1::text;
`
