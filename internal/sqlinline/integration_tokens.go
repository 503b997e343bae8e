package sqlinline

// Integration tokens hold provider API keys (e.g. the analyzer LLM key) so
// they can be rotated without a redeploy.

const QSelectIntegrationToken = `--sql 3ffdbd0c-6793-4a61-b46a-bfc033d88b5c
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql 53721645-1636-4eda-b7c3-40f151aab6f3
with incoming as (
    select
        $1::text as provider,
        $2::text as token,
        coalesce($3::jsonb, '{}'::jsonb) as properties
)
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), (select provider from incoming), (select token from incoming), (select properties from incoming), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
