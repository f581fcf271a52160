// Package main provides a CLI tool for seeding the database with demo data
// and printing development tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/squirrel"

	"odds/db/migrations"
	corecertnum "odds/internal/core/certnum"
	"odds/internal/config"
	"odds/internal/domain/auth"
	"odds/internal/domain/certificate"
	"odds/internal/infrastructure/certnum"
	"odds/internal/infrastructure/storage/postgres"
	"odds/internal/infrastructure/storage/postgres/certificate_repo"
	"odds/pkg/logger"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func main() {
	token := flag.Bool("token", false, "print a development JWT and exit")
	school := flag.Int64("school", 1, "school id for -token (0 = global admin)")
	flag.Parse()

	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if *token {
		jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtConfig.Issuer = cfg.JWTIssuer
		raw, exp, err := auth.NewJWTService(jwtConfig).GenerateAccessToken(auth.DevUser(*school))
		if err != nil {
			log.Fatalw("failed to sign token", "error", err)
		}
		fmt.Println(raw)
		log.Infow("token issued", "school_id", *school, "expires_at", exp)
		return
	}

	if cfg.UsesMemoryStore() {
		log.Fatal("seeding needs DATABASE_URL; the memory server seeds itself")
	}

	ctx := logger.WithLogger(context.Background(), log)

	pool, err := postgres.NewPool(ctx, postgres.NewPoolConfig(cfg.DatabaseURL, "odds-seed", cfg.DBMaxConns, cfg.DBMinConns))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	txm := postgres.NewTxManager(pool)
	if err := postgres.MigratePool(ctx, pool, migrations.FS); err != nil {
		log.Fatalw("failed to apply migrations", "error", err)
	}

	if err := txm.RunInTransaction(ctx, func(ctx context.Context) error {
		return seedDemoData(ctx, txm)
	}); err != nil {
		log.Fatalw("failed to seed demo data", "error", err)
	}

	// Align the counter with what was just inserted.
	allocator := certnum.New(postgres.NewSequenceRepo(txm), txm, corecertnum.Options{IsRetryable: postgres.IsRetryable})
	repo := certificate_repo.NewStudentRepo(txm)
	last, err := allocator.Bootstrap(ctx, repo.MaxCertificateNumber)
	if err != nil {
		log.Fatalw("failed to bootstrap certificate counter", "error", err)
	}

	log.Infow("seeding completed successfully", "last_certificate_number", last)
}

type demoStudent struct {
	first, last string
	paid        bool
	certificate string
}

var demoClasses = map[string][]demoStudent{
	"Driver Education": {
		{"Maria", "Lopez", true, "0000000001"},
		{"James", "Carter", true, "0000000002"},
		{"Aiko", "Tanaka", true, "0000000003"},
		{"Omar", "Haddad", false, ""},
		{"Lena", "Fischer", true, ""},
	},
	"Defensive Driving": {
		{"Noah", "Brooks", true, "0000000004"},
		{"Priya", "Shah", true, "0000000005"},
		{"Tom", "Weller", false, ""},
	},
}

// seedDemoData inserts one school with two classes unless schools exist.
func seedDemoData(ctx context.Context, txm *postgres.TxManager) error {
	q := txm.GetQuerier(ctx)

	var schools int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM schools`).Scan(&schools); err != nil {
		return fmt.Errorf("count schools: %w", err)
	}
	if schools > 0 {
		logger.Info(ctx, "schools already present, skipping demo data", "schools", schools)
		return nil
	}

	var schoolID int64
	if err := q.QueryRow(ctx,
		`INSERT INTO schools (name, short_name, email) VALUES ($1, $2, $3) RETURNING school_id`,
		"First Wave Driving School", "FWDS", "office@fwds.test",
	).Scan(&schoolID); err != nil {
		return fmt.Errorf("insert school: %w", err)
	}

	now := time.Now().UTC()
	completed := now.AddDate(0, 0, -7)

	for course, students := range demoClasses {
		class := certificate.Class{SchoolID: schoolID, CourseName: course, CompletionDate: &completed}
		sql, args, err := psql.Insert("classes").
			SetMap(postgres.StructToMap(class, "class_id", "deleted_at")).
			Suffix("RETURNING class_id").
			ToSql()
		if err != nil {
			return fmt.Errorf("build class insert: %w", err)
		}
		if err := q.QueryRow(ctx, sql, args...).Scan(&class.ID); err != nil {
			return fmt.Errorf("insert class %q: %w", course, err)
		}

		for _, d := range students {
			st := certificate.Student{
				SchoolID:  schoolID,
				ClassID:   &class.ID,
				FirstName: d.first,
				LastName:  d.last,
				IsPaid:    d.paid,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if d.certificate != "" {
				num := d.certificate
				st.CertificateNumber = &num
				st.DateProcessed = &now
			}

			sql, args, err := psql.Insert("students").
				SetMap(postgres.StructToMap(st, "student_id", "deleted_at")).
				ToSql()
			if err != nil {
				return fmt.Errorf("build student insert: %w", err)
			}
			if _, err := q.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("insert student %s %s: %w", d.first, d.last, err)
			}
		}
		logger.Info(ctx, "class seeded", "class_id", class.ID, "course", course, "students", len(students))
	}
	return nil
}
