package repository

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意制約違反を表すSQLSTATE。
const uniqueViolation = "23505"

// uniqueViolationConstraint は一意制約違反であれば制約名を返す。
func uniqueViolationConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return "", false
	}
	if pqErr.Code != uniqueViolation {
		return "", false
	}
	return pqErr.Constraint, true
}
