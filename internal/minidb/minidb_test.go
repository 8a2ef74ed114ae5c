package minidb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RichardKnop/minidb/internal/pkg/logging"
)

const testTableName = "users"

var (
	gen = newDataGen(uint64(time.Now().Unix()))

	testColumns = []Column{
		{Name: "id", Type: ColumnTypeInt},
		{Name: "email", Type: ColumnTypeText},
		{Name: "age", Type: ColumnTypeInt},
	}

	testLogger *zap.Logger
)

func init() {
	logConf := logging.DefaultConfig()

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "debug"
	}

	l, err := logging.ParseLevel(level)
	if err != nil {
		panic(err)
	}
	logConf.Level = zap.NewAtomicLevelAt(l)

	testLogger, err = logConf.Build()
	if err != nil {
		panic(err)
	}
}

type dataGen struct {
	*gofakeit.Faker
}

func newDataGen(seed uint64) *dataGen {
	g := dataGen{
		Faker: gofakeit.New(seed),
	}

	return &g
}

// Values returns a row matching testColumns, the age is null now and then.
func (g *dataGen) Values() []Value {
	age := Int(int64(g.IntRange(18, 99)))
	if g.IntRange(0, 9) == 0 {
		age = Null()
	}
	return []Value{
		Int(g.Int64()),
		Text(g.Email()),
		age,
	}
}

func (g *dataGen) Rows(number int) [][]Value {
	rows := make([][]Value, 0, number)
	for range number {
		rows = append(rows, g.Values())
	}
	return rows
}

// Record returns random bytes of the given length.
func (g *dataGen) Record(size int) []byte {
	record := make([]byte, size)
	for i := range record {
		record[i] = byte(g.Uint8())
	}
	return record
}

func tempDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "test.db")
}

func openTestDB(t *testing.T, path string, opts ...DatabaseOption) *Database {
	db, err := Open(context.Background(), path, testLogger, opts...)
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T) *PageStore {
	aStore, err := OpenPageStore(tempDBPath(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { aStore.Close() })
	return aStore
}

// newTestTxManager wires a store and WAL in a temp dir without a catalog.
func newTestTxManager(t *testing.T) (*PageStore, *WAL, *TransactionManager) {
	path := tempDBPath(t)

	aStore, err := OpenPageStore(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { aStore.Close() })

	aWAL, err := OpenWAL(path+WALSuffix, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { aWAL.Close() })

	return aStore, aWAL, NewTransactionManager(aStore, aWAL, testLogger)
}

// crash closes the files without checkpointing, as if the process died.
func crash(t *testing.T, db *Database) {
	require.NoError(t, db.closeFiles())
}
