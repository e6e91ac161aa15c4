package sqlinline

const providerColumns = `id, name, format, coalesce(base_url, ''), coalesce(api_key, ''), coalesce(model, ''),
    local, coalesce(capabilities, '{}'), is_default`

const QSelectProviderByID = `--sql 6d8bc406-6aed-4848-b62e-d69f7a62d45f
select ` + providerColumns + `
from model_providers
where id = $1::text;
`

const QSelectProvidersByCapability = `--sql f315a095-3dab-43fe-af03-dc68b789e85e
select ` + providerColumns + `
from model_providers
where $1::text = any(capabilities)
order by is_default desc, created_at asc;
`

const QUpsertProvider = `--sql 465b8994-866f-4ee3-807e-6928ff9525b0
insert into model_providers (id, name, format, base_url, api_key, model, local, capabilities, is_default, created_at, updated_at)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::text, $7::boolean, $8::text[], $9::boolean, now(), now())
on conflict (id) do update set
    name = excluded.name,
    format = excluded.format,
    base_url = excluded.base_url,
    api_key = excluded.api_key,
    model = excluded.model,
    local = excluded.local,
    capabilities = excluded.capabilities,
    is_default = excluded.is_default,
    updated_at = now();
`

const QClearDefaultProvider = `--sql 1c9a9d38-6dc2-4e7d-8b5d-b5f06951e086
update model_providers
set is_default = false, updated_at = now()
where id <> $1::text
  and $2::text = any(capabilities)
  and is_default;
`
