package sqlinline

const QGetCredits = `--sql 5b83f2a9-0c47-4d16-9f3b-72e1a86d40cf
select credits
from backfill_run_credits
where user_id = $1;
`

const QInitCredits = `--sql e61c94d8-3a25-4f70-81b9-0fd6c2573ea4
insert into backfill_run_credits (user_id, credits, updated_at)
values ($1, 0, now())
on conflict (user_id) do nothing;
`

// Guarded decrement: the balance predicate keeps two workers touching the
// same user from driving the balance negative.
const QConsumeCredit = `--sql 92f7b0e4-58d1-4ac3-b6f2-1c8e43a95d07
update backfill_run_credits
set credits = credits - 1, updated_at = now()
where user_id = $1 and credits >= 1;
`

const QRefundCredit = `--sql 3d58a1c6-74bf-4e09-92d5-eb06f8241b3a
insert into backfill_run_credits (user_id, credits, updated_at)
values ($1, 1, now())
on conflict (user_id) do update
set credits = backfill_run_credits.credits + 1, updated_at = now();
`
