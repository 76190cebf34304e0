package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/database"
	"github.com/stemsi/exam-engine/internal/logger"
	"github.com/stemsi/exam-engine/internal/repository"
	"github.com/stemsi/exam-engine/internal/roster"
)

func main() {
	var path string
	flag.StringVar(&path, "file", "students.xlsx", "Roster file (.xlsx or .csv) with student_id, name and email columns")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to open roster")
	}
	defer f.Close()

	table, err := roster.Read(path, f)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read roster")
	}
	students, err := table.Students()
	if err != nil {
		log.Fatal().Err(err).Msg("Roster has no usable students")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)

	fmt.Printf("=== Seeding %d students from %s ===\n", len(students), path)

	var seeded, failed int
	for i := range students {
		s := &students[i]
		if err := studentRepo.Upsert(ctx, s); err != nil {
			log.Error().Err(err).Str("student_id", s.ID).Msg("Failed to upsert student")
			failed++
			continue
		}
		seeded++
	}

	fmt.Printf("Seeded: %d, failed: %d\n", seeded, failed)
}
