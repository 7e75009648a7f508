package sqlinline

// Ledger mutations are single conditional statements; the balance check and
// the decrement commit together or not at all.

const QDebitAccount = `--sql 386faf13-7c96-4ffd-8f81-212fdbf63619
update accounts
set balance = balance - $2,
    total_debited = total_debited + $2,
    jobs_created = jobs_created + 1,
    updated_at = now()
where id = $1::uuid
  and balance >= $2
returning balance;
`

const QCreditAccount = `--sql 86805aec-d845-4fbb-a5ec-e9808930f109
update accounts
set balance = balance + $2,
    updated_at = now()
where id = $1::uuid
returning balance;
`

const QSelectAccount = `--sql 56e5f7af-db1a-4c0d-a504-5e05e5a0aa74
select id, email, balance, total_debited, jobs_created, created_at, updated_at
from accounts
where id = $1::uuid
limit 1;
`

// QApplyPurchase records the webhook event and credits the balance in one
// statement. A redelivered event hits the conflict, the evt CTE returns
// nothing and the balance is untouched.
const QApplyPurchase = `--sql 3ab6338e-019b-45f8-b978-3597eff693d2
with acct as (
    select id from accounts where id = $2::uuid
),
evt as (
    insert into webhook_events (event_id, account_id, credits, created_at)
    select $1, acct.id, $3, now() from acct
    on conflict (event_id) do nothing
    returning event_id
)
update accounts
set balance = balance + $3,
    updated_at = now()
where id in (select id from acct)
  and exists (select 1 from evt)
returning balance;
`

const QSelectWebhookEvent = `--sql 21c7fe31-aa79-4134-a0aa-f05b340b5a6c
select event_id, account_id, credits, created_at
from webhook_events
where event_id = $1
limit 1;
`
