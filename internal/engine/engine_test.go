package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/internal/errs"
)

func openTest(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	eng, err := Open(filepath.Join(dir, "relcore.db"), 64, nil)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func exec(t *testing.T, eng *Engine, stmt string) *Result {
	t.Helper()
	res, err := eng.Execute(stmt)
	require.NoError(t, err, "executing %q", stmt)
	return res
}

func execErr(t *testing.T, eng *Engine, stmt string) error {
	t.Helper()
	_, err := eng.Execute(stmt)
	require.Error(t, err, "expected error executing %q", stmt)
	return err
}

func rowStrings(res *Result) [][]string { return res.Rows }

func TestCreateTableAndInsertSelect(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE students (id UINT UNIQUE NOT NULL, name TEXT, age INT)`)
	exec(t, eng, `INSERT INTO students VALUES (1, 'Alice', 20), (2, 'Bob', 21)`)

	res := exec(t, eng, `SELECT * FROM students`)
	require.Len(t, res.Rows, 2)
	require.Equal(t, []string{"1", "Alice", "20"}, res.Rows[0])
	require.Equal(t, []string{"2", "Bob", "21"}, res.Rows[1])
}

func TestCreateTableDuplicateErrors(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT)`)
	err := execErr(t, eng, `CREATE TABLE t (a INT)`)
	require.True(t, errors.Is(err, errs.ErrTableExists))
	require.Equal(t, "Table t already exists", err.Error())
}

func TestUniqueMustBeNumeric(t *testing.T) {
	eng := openTest(t)
	err := execErr(t, eng, `CREATE TABLE t (a TEXT UNIQUE)`)
	require.Equal(t, "Unique field must be of type uint, int, or float", err.Error())
}

func TestInsertArityMismatch(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT, b INT)`)
	err := execErr(t, eng, `INSERT INTO t VALUES (1)`)
	require.Equal(t, "Expected 2 values, but got 1.", err.Error())
}

func TestInsertUnknownColumn(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT, b INT)`)
	err := execErr(t, eng, `INSERT INTO t (a, zz) VALUES (1, 2)`)
	require.Equal(t, "Columns [zz] not found", err.Error())
}

func TestNotNullEnforced(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT NOT NULL)`)
	err := execErr(t, eng, `INSERT INTO t VALUES (null)`)
	require.Equal(t, "NULL is not allowed in column a", err.Error())
}

func TestUniqueViolation(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a UINT UNIQUE NOT NULL)`)
	exec(t, eng, `INSERT INTO t VALUES (1)`)
	err := execErr(t, eng, `INSERT INTO t VALUES (1)`)
	require.True(t, errors.Is(err, errs.ErrDuplicate))
	require.Equal(t, "Duplicate value 1 in column a", err.Error())
}

func TestOffsetWithoutLimitError(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT)`)
	err := execErr(t, eng, `SELECT * FROM t OFFSET 1`)
	require.Equal(t, "OFFSET without LIMIT", err.Error())
}

func TestTableNotFound(t *testing.T) {
	eng := openTest(t)
	err := execErr(t, eng, `SELECT * FROM nope`)
	require.Equal(t, "Table nope not found", err.Error())
}

func TestColumnNotFoundInWhere(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT)`)
	exec(t, eng, `INSERT INTO t VALUES (1)`)
	err := execErr(t, eng, `SELECT * FROM t WHERE zz = 1`)
	require.Equal(t, "Column zz not found", err.Error())
}

func TestFloatDisplayKeepsFractionalDigit(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a FLOAT)`)
	exec(t, eng, `INSERT INTO t VALUES (7)`)
	res := exec(t, eng, `SELECT a FROM t`)
	require.Equal(t, "7.0", res.Rows[0][0])
}

// S1 -- UNIQUE + PREWHERE range.
func TestScenarioS1UniquePrewhereRange(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE test (a UINT UNIQUE NOT NULL, b FLOAT NOT NULL, c INT, d TEXT)`)
	exec(t, eng, `INSERT INTO test VALUES (1,2.3,-4,'a'),(2,3.4,5,'b'),(3,4.5,6,'c'),(4,5.6,7,'d'),(5,6.7,8,'e')`)

	res := exec(t, eng, `SELECT a FROM test PREWHERE (a BETWEEN 1 AND 4)`)
	var got []string
	for _, row := range res.Rows {
		got = append(got, row[0])
	}
	require.Equal(t, []string{"1", "2", "3", "4"}, got)
}

// S2 -- update that collides with an existing UNIQUE value.
func TestScenarioS2UpdateCollides(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a UINT UNIQUE NOT NULL, b FLOAT NOT NULL)`)
	exec(t, eng, `INSERT INTO t VALUES (1,1.0),(2,2.0)`)

	err := execErr(t, eng, `UPDATE t SET a = 1 WHERE a = 2`)
	require.Equal(t, "Duplicate value 1 in column a", err.Error())

	res := exec(t, eng, `SELECT a FROM t`)
	require.Equal(t, [][]string{{"1"}, {"2"}}, rowStrings(res))
}

// S3 -- rollback restores the pre-BEGIN state exactly.
func TestScenarioS3Rollback(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE x (a INT, b INT)`)
	exec(t, eng, `INSERT INTO x VALUES (1,2),(3,4)`)

	exec(t, eng, `BEGIN`)
	exec(t, eng, `INSERT INTO x VALUES (5,6)`)
	res := exec(t, eng, `SELECT * FROM x`)
	require.Equal(t, [][]string{{"1", "2"}, {"3", "4"}, {"5", "6"}}, rowStrings(res))
	exec(t, eng, `ROLLBACK`)

	res = exec(t, eng, `SELECT * FROM x`)
	require.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, rowStrings(res))
}

// S4 -- JOIN with qualified column names.
func TestScenarioS4Join(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE a (id INT, name TEXT)`)
	exec(t, eng, `CREATE TABLE b (id INT, name TEXT)`)
	exec(t, eng, `INSERT INTO a VALUES (1,'a'),(2,'b'),(3,'c'),(4,'d')`)
	exec(t, eng, `INSERT INTO b VALUES (1,'z'),(2,'y'),(3,'x'),(5,'w')`)

	res := exec(t, eng, `SELECT a.id, b.name FROM a JOIN b ON a.id = b.id`)
	require.Equal(t, [][]string{{"1", "z"}, {"2", "y"}, {"3", "x"}}, rowStrings(res))
}

// S5 -- UNION unifies a signed column with an unsigned column.
func TestScenarioS5UnionSignedUnsigned(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t1 (a INT, b TEXT)`)
	exec(t, eng, `CREATE TABLE t2 (c UINT, d TEXT)`)
	exec(t, eng, `INSERT INTO t1 VALUES (-1,'foo'),(2,'bar')`)
	exec(t, eng, `INSERT INTO t2 VALUES (1,'baz'),(3,'qux')`)

	res := exec(t, eng, `SELECT a,b FROM t1 UNION SELECT c,d FROM t2`)
	require.Equal(t, [][]string{
		{"-1", "foo"},
		{"2", "bar"},
		{"1", "baz"},
		{"3", "qux"},
	}, rowStrings(res))
}

// S6 -- LIMIT n OFFSET m == LIMIT m, n, and OFFSET alone errors.
func TestScenarioS6Limit(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE u (id UINT UNIQUE NOT NULL, name TEXT)`)
	exec(t, eng, `INSERT INTO u VALUES (1,'A'),(2,'B'),(3,'C'),(4,'D')`)

	res := exec(t, eng, `SELECT * FROM u LIMIT 2, 2`)
	require.Equal(t, [][]string{{"3", "C"}, {"4", "D"}}, rowStrings(res))

	resOffset := exec(t, eng, `SELECT * FROM u LIMIT 2 OFFSET 2`)
	require.Equal(t, res.Rows, resOffset.Rows)

	err := execErr(t, eng, `SELECT * FROM u OFFSET 1`)
	require.Equal(t, "OFFSET without LIMIT", err.Error())
}

func TestRIDStableAcrossInPlaceUpdate(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a UINT UNIQUE NOT NULL, b INT)`)
	exec(t, eng, `INSERT INTO t VALUES (1, 10), (2, 20)`)

	exec(t, eng, `UPDATE t SET b = 99 WHERE a = 1`)
	res := exec(t, eng, `SELECT a, b FROM t`)
	require.Equal(t, [][]string{{"1", "99"}, {"2", "20"}}, rowStrings(res))
}

// UPDATE/DELETE apply to every matching row one at a time against the
// same table handle, inside one implicit transaction; when two or
// more matches share a page, the first row's write shadows it before
// the rest are reached.
func TestUpdateMultipleRowsOnOnePage(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT, b INT)`)
	exec(t, eng, `INSERT INTO t VALUES (1,1),(2,2),(3,3)`)
	exec(t, eng, `UPDATE t SET b = 99 WHERE a > 1`)

	res := exec(t, eng, `SELECT a, b FROM t`)
	require.Equal(t, [][]string{{"1", "1"}, {"2", "99"}, {"3", "99"}}, rowStrings(res))
}

func TestDeleteMultipleRowsOnOnePage(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT, b INT)`)
	exec(t, eng, `INSERT INTO t VALUES (1,1),(2,2),(3,3)`)
	exec(t, eng, `DELETE FROM t WHERE a > 1`)

	res := exec(t, eng, `SELECT a, b FROM t`)
	require.Equal(t, [][]string{{"1", "1"}}, rowStrings(res))
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a UINT UNIQUE NOT NULL)`)
	exec(t, eng, `INSERT INTO t VALUES (1),(2),(3)`)
	exec(t, eng, `DELETE FROM t WHERE a = 2`)

	// Re-inserting the deleted key must succeed: a stale index entry
	// would surface as a spurious duplicate.
	exec(t, eng, `INSERT INTO t VALUES (2)`)
	res := exec(t, eng, `SELECT a FROM t PREWHERE (a BETWEEN 1 AND 3)`)
	require.Equal(t, [][]string{{"1"}, {"2"}, {"3"}}, rowStrings(res))
}

func TestTruncateEmptiesTable(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT)`)
	exec(t, eng, `INSERT INTO t VALUES (1),(2),(3)`)
	exec(t, eng, `TRUNCATE t`)
	res := exec(t, eng, `SELECT * FROM t`)
	require.Empty(t, res.Rows)
}

func TestEqualsNullLiteralMatchesNullRows(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT)`)
	exec(t, eng, `INSERT INTO t VALUES (null), (1)`)

	res := exec(t, eng, `SELECT a FROM t WHERE a = null`)
	require.Len(t, res.Rows, 1)
	require.Equal(t, "null", res.Rows[0][0])
}

func TestBeginCommitRollbackWithoutActiveTxn(t *testing.T) {
	eng := openTest(t)
	err := execErr(t, eng, `COMMIT`)
	require.True(t, errors.Is(err, errs.ErrNoActiveTxn))

	err = execErr(t, eng, `ROLLBACK`)
	require.True(t, errors.Is(err, errs.ErrNoActiveTxn))
}

func TestNestedBeginErrors(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `BEGIN`)
	err := execErr(t, eng, `BEGIN`)
	require.True(t, errors.Is(err, errs.ErrAlreadyActive))
	exec(t, eng, `ROLLBACK`)
}

func TestExplainRendersPlanText(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT)`)
	exec(t, eng, `INSERT INTO t VALUES (1),(2)`)

	res := exec(t, eng, `EXPLAIN SELECT * FROM t WHERE a = 1`)
	require.Contains(t, res.Plan, "Sequential scan of t")
	require.Contains(t, res.Plan, "filter by where clause")

	res = exec(t, eng, `EXPLAIN ANALYZE SELECT * FROM t WHERE a = 1`)
	require.Contains(t, res.Plan, "produced 1 row(s)")
}

func TestDropTableThenRecreate(t *testing.T) {
	eng := openTest(t)
	exec(t, eng, `CREATE TABLE t (a INT)`)
	exec(t, eng, `INSERT INTO t VALUES (1)`)
	exec(t, eng, `DROP TABLE t`)

	err := execErr(t, eng, `SELECT * FROM t`)
	require.Equal(t, "Table t not found", err.Error())

	exec(t, eng, `CREATE TABLE t (a INT)`)
	res := exec(t, eng, `SELECT * FROM t`)
	require.Empty(t, res.Rows)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relcore.db")

	eng, err := Open(path, 64, nil)
	require.NoError(t, err)
	_, err = eng.Execute(`CREATE TABLE t (a UINT UNIQUE NOT NULL, b TEXT)`)
	require.NoError(t, err)
	_, err = eng.Execute(`INSERT INTO t VALUES (1, 'hello')`)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	eng2, err := Open(path, 64, nil)
	require.NoError(t, err)
	defer eng2.Close()
	res, err := eng2.Execute(`SELECT * FROM t`)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1", "hello"}}, res.Rows)
}
