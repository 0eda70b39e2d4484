// relcore is the interactive shell: a REPL over the engine, reading
// SQL text a line at a time and printing rows, messages or plans.
// Grounded on the teacher's bufio.Scanner-over-stdin loop in main.go,
// rebuilt around internal/engine instead of the lexer/parser/codegen/VM
// pipeline it drove.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"relcore/internal/engine"
)

const defaultDataDir = "./data"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	dataDir := os.Getenv("RELCORE_DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "relcore: create data dir: %v\n", err)
		os.Exit(1)
	}
	dbPath := filepath.Join(dataDir, "relcore.db")

	eng, err := engine.Open(dbPath, 256, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relcore: open: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("relcore> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
			return
		case strings.EqualFold(line, "\\stats"):
			printStats(dbPath)
			continue
		}

		res, err := eng.Execute(line)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		printResult(res)
	}
}

func printStats(dbPath string) {
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Printf("stats: %v\n", err)
		return
	}
	fmt.Printf("%s: %s\n", dbPath, humanize.Bytes(uint64(info.Size())))
}

func printResult(res *engine.Result) {
	switch {
	case res.Plan != "":
		fmt.Println(res.Plan)
	case res.Message != "":
		fmt.Println(res.Message)
	default:
		if len(res.Columns) > 0 {
			fmt.Println(strings.Join(res.Columns, "\t"))
		}
		for _, row := range res.Rows {
			fmt.Println(strings.Join(row, "\t"))
		}
		fmt.Printf("%s row(s)\n", humanize.Comma(int64(len(res.Rows))))
	}
}
