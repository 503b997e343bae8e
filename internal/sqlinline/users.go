package sqlinline

const QInsertUser = `--sql 9fe314e2-4860-496d-a1f6-61b7e388f634
insert into users (id, email, password_hash, tier, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, 'free', now(), now())
returning id, email, password_hash, tier, created_at, updated_at;
`

const QSelectUserByID = `--sql 71fb4a5a-274c-4a13-99e9-d7ab9f92d8ef
select id, email, password_hash, tier, created_at, updated_at
from users
where id = $1::uuid;
`

const QSelectUserByEmail = `--sql 79110d12-bb02-4332-bc9d-5729d742b26f
select id, email, password_hash, tier, created_at, updated_at
from users
where email = $1::text;
`

const QUpdateUserTier = `--sql d254fb52-17e1-4a34-9be2-d7abf1d82cc6
update users
set tier = $2::text,
    updated_at = now()
where id = $1::uuid
returning id, email, password_hash, tier, created_at, updated_at;
`
