package sqlinline

// QEnqueueRefundRetry records a failed settle attempt. QClaimRefund queues
// the row itself, so this normally only bumps attempts and last_error; the
// insert arm keeps the credit durable even if the row went missing.
const QEnqueueRefundRetry = `--sql a411d23d-d4c3-4ffc-a423-4b9c71e9328c
insert into refund_retries (task_id, account_id, credits, attempts, last_error, created_at)
values ($1, $2::uuid, $3, 1, $4, now())
on conflict (task_id) do update set
    attempts = refund_retries.attempts + 1,
    last_error = excluded.last_error;
`

// QSettleRefundRetryByTask settles one specific queued refund, claim-first
// like QSettleRefundRetry so a concurrent worker drain cannot credit the
// same row twice. Returns the account balance after the credit.
const QSettleRefundRetryByTask = `--sql 2d5700a3-c42b-45b1-9348-71770dab4563
with claimed as (
    select task_id, account_id, credits
    from refund_retries
    where task_id = $1
    for update skip locked
),
credited as (
    update accounts a
    set balance = a.balance + c.credits,
        updated_at = now()
    from claimed c
    where a.id = c.account_id
    returning a.balance, c.task_id
)
delete from refund_retries r
using credited c
where r.task_id = c.task_id
returning c.balance;
`

// QSettleRefundRetry credits the account and removes the queue row in a
// single statement, using the same skip-locked claim used for job pickup.
// The claim is exclusive, so a retried refund is credited exactly once.
const QSettleRefundRetry = `--sql fcd2bfba-dfc4-4ca6-bb11-c7d835102c27
with claimed as (
    select task_id, account_id, credits, attempts, last_error, created_at
    from refund_retries
    order by created_at asc
    for update skip locked
    limit 1
),
credited as (
    update accounts a
    set balance = a.balance + c.credits,
        updated_at = now()
    from claimed c
    where a.id = c.account_id
    returning c.task_id
)
delete from refund_retries r
using claimed c
where r.task_id = c.task_id
  and r.task_id in (select task_id from credited)
returning c.task_id, c.account_id, c.credits, c.attempts, coalesce(c.last_error, ''), c.created_at;
`
