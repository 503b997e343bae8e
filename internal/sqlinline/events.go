package sqlinline

// Guest identities have no users row, so identity_id is plain text here.
const QInsertUsageEvent = `--sql fa88cdb4-224e-43b4-9efc-df522afd0b89
insert into usage_events (id, identity_id, request_id, event_type, success, latency_ms, country, created_at, properties)
values (gen_random_uuid(), $1::text, $2::text, $3::text, $4::boolean, $5::int, nullif($6::text, ''), now(), coalesce($7::jsonb, '{}'::jsonb));
`
