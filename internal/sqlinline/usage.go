package sqlinline

const QSelectUsage = `--sql 33bd09f3-49d4-49dd-8451-2dbffdef7e5a
select u.tier,
       coalesce(b.used_today, 0) as used_today,
       coalesce(to_char(b.last_reset, 'YYYY-MM-DD'), '') as last_reset
from users u
left join usage_records b on b.user_id = u.id
where u.id = $1::uuid;
`

const QUpsertUsage = `--sql 67063209-e81f-4d7c-8c2f-8d2e6dbfeb2b
insert into usage_records (user_id, used_today, last_reset, updated_at)
values ($1::uuid, $2::int, to_date($3::text, 'YYYY-MM-DD'), now())
on conflict (user_id) do update set
    used_today = excluded.used_today,
    last_reset = excluded.last_reset,
    updated_at = now();
`

const QDeleteUsage = `--sql 76152b1b-9fbb-465e-a16d-87ea1d71a5ce
delete from usage_records
where user_id = $1::uuid;
`

// QSyncUsage reconciles a client-reported count against the server row: the
// row is reset when its civil day is stale, then the higher count wins.
const QSyncUsage = `--sql 83d6a1b4-4631-4c16-a6b0-53cdd98d173c
with incoming as (
    select $1::uuid as user_id,
           $2::int as local_count,
           $3::text as today
),
merged as (
    insert into usage_records (user_id, used_today, last_reset, updated_at)
    values ((select user_id from incoming), (select local_count from incoming),
            to_date((select today from incoming), 'YYYY-MM-DD'), now())
    on conflict (user_id) do update set
        used_today = case
            when to_char(usage_records.last_reset, 'YYYY-MM-DD') <> (select today from incoming)
                then (select local_count from incoming)
            else greatest(usage_records.used_today, (select local_count from incoming))
        end,
        last_reset = to_date((select today from incoming), 'YYYY-MM-DD'),
        updated_at = now()
    returning user_id, used_today
)
select u.tier, m.used_today
from merged m
join users u on u.id = m.user_id;
`
