package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict 表示可串行化事务提交冲突。
// 对账回调收到此错误时应返回非 2xx, 由网关按自身节奏重发。
var ErrConflict = errors.New("transaction conflict")

// TranslateTxError 将 Postgres 的串行化失败/死锁错误归一为 ErrConflict。
// 其余错误原样返回。
func TranslateTxError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Code)
		}
	}
	return err
}
