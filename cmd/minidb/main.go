package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/RichardKnop/minidb/internal/config"
	"github.com/RichardKnop/minidb/internal/minidb"
	"github.com/RichardKnop/minidb/internal/pkg/logging"
	"github.com/RichardKnop/minidb/internal/pkg/util"
)

const cliName = "minidb"

var (
	configFlag   string
	dbFlag       string
	logLevelFlag string
)

func init() {
	flag.StringVar(&configFlag, "config", "minidb.ini", "Path to the ini config file")
	flag.StringVar(&dbFlag, "db", "", "Database file, overrides [storage] path")
	flag.StringVar(&logLevelFlag, "log-level", "", "Log level, overrides [logs] level and LOG_LEVEL")
	flag.Usage = usage
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <command> [args]\n\n", cliName)
	fmt.Fprintln(flag.CommandLine.Output(), "Commands:")
	fmt.Fprintln(flag.CommandLine.Output(), "  info             Show file, WAL and catalog statistics")
	fmt.Fprintln(flag.CommandLine.Output(), "  tables           List tables and their columns")
	fmt.Fprintln(flag.CommandLine.Output(), "  indexes <table>  List indexes of a table")
	fmt.Fprintln(flag.CommandLine.Output(), "  dump <table>     Print every row of a table")
	fmt.Fprintln(flag.CommandLine.Output(), "  checkpoint       Flush the WAL into the database file")
	fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if dbFlag != "" {
		cfg.DBPath = dbFlag
	}
	level := cfg.LogLevel
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = envLevel
	}
	if logLevelFlag != "" {
		level = logLevelFlag
	}

	logger, err := logging.New(level, cfg.LogOutput)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync() // flushes buffer, if any

	if err := run(ctx, cfg, logger, os.Stdout, flag.Args()); err != nil {
		logger.Error("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, w io.Writer, args []string) (err error) {
	opts, err := cfg.DatabaseOptions()
	if err != nil {
		return err
	}

	db, err := minidb.Open(ctx, cfg.DBPath, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close(ctx))
	}()

	switch args[0] {
	case "info":
		return printInfo(ctx, db, w)
	case "tables":
		return printTables(db, w)
	case "indexes":
		if len(args) < 2 {
			return fmt.Errorf("%w: indexes needs a table name", minidb.ErrInvalid)
		}
		return printIndexes(ctx, db, w, args[1])
	case "dump":
		if len(args) < 2 {
			return fmt.Errorf("%w: dump needs a table name", minidb.ErrInvalid)
		}
		return dumpTable(ctx, db, w, args[1])
	case "checkpoint":
		if err := db.Checkpoint(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "checkpoint complete")
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", minidb.ErrInvalid, args[0])
	}
}

func printInfo(ctx context.Context, db *minidb.Database, w io.Writer) error {
	info, err := db.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "path:       %s\n", info.Path)
	fmt.Fprintf(w, "page size:  %d\n", minidb.PageSize)
	fmt.Fprintf(w, "pages:      %d\n", info.PageCount)
	fmt.Fprintf(w, "free pages: %d\n", info.FreePages)
	fmt.Fprintf(w, "wal bytes:  %d\n", info.WALSize)
	fmt.Fprintf(w, "tables:     %d\n", info.Tables)
	fmt.Fprintf(w, "indexes:    %d\n", info.Indexes)
	return nil
}

func printTables(db *minidb.Database, w io.Writer) error {
	for _, aTable := range db.ListTables() {
		fmt.Fprintf(w, "%s (id=%d root=%d next_rowid=%d)\n", aTable.Name, aTable.ID, aTable.HeapRoot, aTable.NextRowID)
		for _, aColumn := range aTable.Columns {
			fmt.Fprintf(w, "  %s %s\n", aColumn.Name, aColumn.Type)
		}
	}
	return nil
}

func printIndexes(ctx context.Context, db *minidb.Database, w io.Writer, tableName string) error {
	aTable, err := db.OpenTable(ctx, tableName)
	if err != nil {
		return err
	}
	for _, anIndex := range db.ListIndexes(tableName) {
		columnName, err := aTable.ColumnName(anIndex.Column)
		if err != nil {
			return err
		}
		unique := ""
		if anIndex.Unique {
			unique = " unique"
		}
		fmt.Fprintf(w, "%s on %s(%s) %s%s root=%d\n", anIndex.Name, anIndex.Table, columnName, anIndex.Type, unique, anIndex.Root)
	}
	return nil
}

func dumpTable(ctx context.Context, db *minidb.Database, w io.Writer, tableName string) error {
	aTable, err := db.OpenTable(ctx, tableName)
	if err != nil {
		return err
	}

	aPrinter := util.NewTablePrinter(w, aTable.Columns())
	aPrinter.Header()

	aScan := aTable.Scan(ctx)
	defer aScan.Close()
	count := 0
	for {
		aRow, err := aScan.Next(ctx)
		if errors.Is(err, minidb.ErrNoMoreRows) {
			break
		}
		if err != nil {
			return err
		}
		aPrinter.Row(aRow)
		count++
	}
	aPrinter.End()
	fmt.Fprintf(w, "%d rows\n", count)

	return nil
}
