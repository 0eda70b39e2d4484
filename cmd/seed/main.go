// Seed program: opens (or creates) a relcore data file and populates it
// with a handful of tables and sample rows, for manual poking with
// cmd/relcore afterward.
// Run: RELCORE_DATA_DIR=./data go run ./cmd/seed
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"relcore/internal/engine"
)

func main() {
	dataDir := os.Getenv("RELCORE_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	eng, err := engine.Open(filepath.Join(dataDir, "relcore.db"), 256, logger)
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}
	defer eng.Close()

	run := func(sqlText string) {
		res, err := eng.Execute(sqlText)
		if err != nil {
			log.Fatalf("execute %q: %v", sqlText, err)
		}
		if res.Message != "" {
			fmt.Println(res.Message)
		}
	}

	fmt.Println("Creating sample tables...")

	run(`CREATE TABLE students (id UINT UNIQUE NOT NULL, name TEXT, age INT)`)
	run(`INSERT INTO students VALUES (1, 'Alice', 20), (2, 'Bob', 21), (3, 'Carol', 19)`)

	run(`CREATE TABLE courses (code UINT UNIQUE NOT NULL, title TEXT)`)
	run(`INSERT INTO courses VALUES (101, 'Intro to CS'), (102, 'Data Structures')`)

	run(`CREATE TABLE grades (id UINT UNIQUE NOT NULL, course_code UINT, grade TEXT)`)
	run(`INSERT INTO grades VALUES (1, 101, 'A'), (2, 102, 'B'), (3, 101, 'A')`)

	fmt.Println("\n--- SELECT * FROM students ---")
	printSelect(eng, "SELECT * FROM students")
	fmt.Println("\n--- SELECT * FROM courses ---")
	printSelect(eng, "SELECT * FROM courses")
	fmt.Println("\n--- SELECT * FROM grades ---")
	printSelect(eng, "SELECT * FROM grades")
}

func printSelect(eng *engine.Engine, sqlText string) {
	res, err := eng.Execute(sqlText)
	if err != nil {
		log.Fatalf("execute %q: %v", sqlText, err)
	}
	for _, row := range res.Rows {
		fmt.Println(row)
	}
}
