package workflow

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

/* A fake database/sql driver that records every statement the session
   sees, in order. GET_LOCK is session-scoped on MySQL, so the tests
   below assert against what actually reaches the connection, not what
   the caller attempted. */

type statementLog struct {
	mu    sync.Mutex
	stmts []string
}

func (l *statementLog) add(stmt string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stmts = append(l.stmts, stmt)
}

func (l *statementLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.stmts...)
}

func (l *statementLog) indexOf(substr string) int {
	for i, stmt := range l.all() {
		if strings.Contains(stmt, substr) {
			return i
		}
	}
	return -1
}

type recordingConnector struct{ log *statementLog }

func (c *recordingConnector) Connect(context.Context) (driver.Conn, error) {
	return &recordingConn{log: c.log}, nil
}

func (c *recordingConnector) Driver() driver.Driver { return recordingDriver{} }

type recordingDriver struct{}

func (recordingDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open through the connector")
}

type recordingConn struct{ log *statementLog }

func (c *recordingConn) Prepare(query string) (driver.Stmt, error) {
	return &recordingStmt{log: c.log, query: query}, nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	c.log.add("BEGIN")
	return &recordingTx{log: c.log}, nil
}

func (c *recordingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return c.Begin()
}

func (c *recordingConn) Ping(ctx context.Context) error { return nil }

func (c *recordingConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.log.add(query)
	return rowsFor(query), nil
}

func (c *recordingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.log.add(query)
	return driver.RowsAffected(1), nil
}

type recordingTx struct{ log *statementLog }

func (t *recordingTx) Commit() error {
	t.log.add("COMMIT")
	return nil
}

func (t *recordingTx) Rollback() error {
	t.log.add("ROLLBACK")
	return nil
}

type recordingStmt struct {
	log   *statementLog
	query string
}

func (s *recordingStmt) Close() error  { return nil }
func (s *recordingStmt) NumInput() int { return -1 }

func (s *recordingStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.log.add(s.query)
	return driver.RowsAffected(1), nil
}

func (s *recordingStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.log.add(s.query)
	return rowsFor(s.query), nil
}

func rowsFor(query string) driver.Rows {
	if strings.Contains(query, "GET_LOCK") || strings.Contains(query, "RELEASE_LOCK") {
		return &staticRows{cols: []string{"result"}, vals: [][]driver.Value{{int64(1)}}}
	}
	return &staticRows{}
}

type staticRows struct {
	cols []string
	vals [][]driver.Value
	next int
}

func (r *staticRows) Columns() []string { return r.cols }
func (r *staticRows) Close() error      { return nil }

func (r *staticRows) Next(dest []driver.Value) error {
	if r.next >= len(r.vals) {
		return io.EOF
	}
	copy(dest, r.vals[r.next])
	r.next++
	return nil
}

func openRecordingDB(t *testing.T) (*gorm.DB, *statementLog) {
	t.Helper()
	log := &statementLog{}
	sqlDB := sql.OpenDB(&recordingConnector{log: log})
	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open gorm over recording driver: %v", err)
	}
	return gdb, log
}

func TestCommitReleasingPostingLockReleasesOnLiveTx(t *testing.T) {
	gdb, log := openRecordingDB(t)

	tx := gdb.Begin()
	if tx.Error != nil {
		t.Fatalf("begin: %v", tx.Error)
	}
	if err := AcquireTenantPostingLock(tx, "t1"); err != nil {
		t.Fatalf("acquire posting lock: %v", err)
	}
	if err := CommitReleasingPostingLock(tx, "t1"); err != nil {
		t.Fatalf("commit releasing posting lock: %v", err)
	}

	release := log.indexOf("RELEASE_LOCK")
	commit := log.indexOf("COMMIT")
	if release == -1 {
		t.Fatalf("RELEASE_LOCK never reached the session, saw %v", log.all())
	}
	if commit == -1 {
		t.Fatalf("COMMIT never reached the session, saw %v", log.all())
	}
	if release > commit {
		t.Fatalf("RELEASE_LOCK at %d ran after COMMIT at %d, saw %v", release, commit, log.all())
	}
}

// A release attempted after Commit dies inside database/sql (the sql.Tx
// is already done) and never reaches the server, so the pooled connection
// would keep holding the lock and block every other connection's GET_LOCK
// for that tenant. The commit path must go through
// CommitReleasingPostingLock.
func TestPostingLockReleaseAfterCommitNeverReachesSession(t *testing.T) {
	gdb, log := openRecordingDB(t)

	tx := gdb.Begin()
	if tx.Error != nil {
		t.Fatalf("begin: %v", tx.Error)
	}
	if err := AcquireTenantPostingLock(tx, "t1"); err != nil {
		t.Fatalf("acquire posting lock: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit: %v", err)
	}
	ReleaseTenantPostingLock(tx, "t1")

	if log.indexOf("RELEASE_LOCK") != -1 {
		t.Fatalf("expected no RELEASE_LOCK to reach the session after commit, saw %v", log.all())
	}
}
