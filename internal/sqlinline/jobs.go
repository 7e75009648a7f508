package sqlinline

const QInsertJob = `--sql 6431e6ba-359b-4a0e-86ce-32e90301108a
insert into jobs (task_id, account_id, status, credits_reserved, refund_state, metadata, created_at, last_status_check)
values ($1, $2::uuid, $3, $4, $5, coalesce($6::jsonb, '{}'::jsonb), now(), now());
`

const QSelectJob = `--sql e9983fa0-3abc-4de3-97f4-f6936a606fb7
select task_id, account_id, status, credits_reserved, refund_state,
       coalesce(result_reference, ''), coalesce(failure_reason, ''),
       metadata, created_at, last_status_check, completed_at
from jobs
where task_id = $1
limit 1;
`

const QListJobsByAccount = `--sql 227d4008-35f8-4c78-a21a-56644d1ec27f
select task_id, account_id, status, credits_reserved, refund_state,
       coalesce(result_reference, ''), coalesce(failure_reason, ''),
       metadata, created_at, last_status_check, completed_at
from jobs
where account_id = $1::uuid
  and ($2 = '' or status = $2)
order by created_at desc;
`

// QUpdateJobStatus is a compare-and-swap on the previous status. Moving to
// completed retires the refund claim (none -> refund_not_applicable) in the
// same statement, so a completed job can never be refunded later.
const QUpdateJobStatus = `--sql de342e61-064b-41ce-8939-9bbcbed13085
update jobs
set status = $3,
    result_reference = coalesce(nullif($4, ''), result_reference),
    failure_reason = coalesce(nullif($5, ''), failure_reason),
    refund_state = case
        when $3 = 'completed' and refund_state = 'none' then 'refund_not_applicable'
        else refund_state
    end,
    completed_at = case
        when $3 in ('completed', 'failed', 'cancelled') and completed_at is null then now()
        else completed_at
    end,
    last_status_check = now()
where task_id = $1
  and status = $2;
`

// QClaimRefund is the sole concurrency-control point against double
// refunds: exactly one caller wins the none -> refunded write. The winning
// claim also queues the credit in refund_retries within the same statement,
// so a crash after the claim leaves a durable row for the worker to settle
// instead of a lost refund. $2 is the cancelled-job refund percent; failed
// jobs always refund in full.
const QClaimRefund = `--sql 74942a0c-bf21-4439-9cf5-eb93c7b49761
with claimed as (
    update jobs
    set refund_state = 'refunded'
    where task_id = $1
      and refund_state = 'none'
      and status in ('failed', 'cancelled')
    returning task_id, account_id,
        credits_reserved * (case when status = 'cancelled' then $2::int else 100 end) / 100 as credits,
        status
),
queued as (
    insert into refund_retries (task_id, account_id, credits, attempts, last_error, created_at)
    select task_id, account_id, credits, 0, '', now()
    from claimed
    where credits > 0
)
select account_id, credits, status from claimed;
`

const QListTerminalJobs = `--sql f657eff3-d50b-4364-a98d-36b9213b5afb
select task_id, account_id, status, credits_reserved, refund_state,
       coalesce(result_reference, ''), coalesce(failure_reason, ''),
       metadata, created_at, last_status_check, completed_at
from jobs
where status in ('failed', 'cancelled', 'completed')
  and ($1 = '' or account_id = $1::uuid)
order by created_at asc
limit $2;
`

const QListStaleActiveJobs = `--sql 2730421d-8d93-48bd-9c7a-e53da4c077e5
select task_id, account_id, status, credits_reserved, refund_state,
       coalesce(result_reference, ''), coalesce(failure_reason, ''),
       metadata, created_at, last_status_check, completed_at
from jobs
where status in ('pending', 'processing')
  and last_status_check < $1
order by last_status_check asc
limit $2;
`

const QTouchJobStatusCheck = `--sql f541a2d1-fd57-4bc4-8441-68b647aff7bf
update jobs
set last_status_check = now()
where task_id = $1;
`
