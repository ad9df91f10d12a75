package sqlinline

const QListOnePendingTask = `--sql 7c1f3b9e-2d44-4c1a-9e67-d2a4f80b6c15
select id, status, user_data, result_log
from tasks
where status = 'PENDING'
order by id asc
limit 1;
`

// Conditional claim: the status predicate makes this a compare-and-swap, so
// of any number of racing workers exactly one sees a returned row.
const QTryLockTask = `--sql a94d2c07-6f8b-4e52-8d10-3be97f41ca62
update tasks
set status = 'PROCESSING', result_log = null
where id = $1 and status = 'PENDING'
returning id, status, user_data, result_log;
`

const QFinalizeTask = `--sql 4e0b8d51-97ac-4f36-b2e8-601c5d2af793
update tasks
set status = $2, result_log = $3, user_data = $4
where id = $1;
`

const QSaveTaskUserData = `--sql d27a640f-15e3-4b98-a4c6-8f0d9b327e51
update tasks
set user_data = $2
where id = $1;
`
