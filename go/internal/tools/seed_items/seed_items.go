package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/trivia/go/internal/content"
	"github.com/mcdev12/trivia/go/internal/dbconfig"
)

// pgSink upserts categories and items. Items already present under the
// same (category_id, external_id) are skipped.
type pgSink struct {
	pool *pgxpool.Pool
}

func (s pgSink) StoreBatch(ctx context.Context, b content.Batch) (int, error) {
	var categoryID int64
	err := s.pool.QueryRow(ctx, `
        INSERT INTO categories (name) VALUES ($1)
        ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
        RETURNING id
    `, b.Category).Scan(&categoryID)
	if err != nil {
		return 0, fmt.Errorf("upsert category %s: %w", b.Category, err)
	}

	var inserted, skipped, errs int
	for _, it := range b.Items {
		cmdTag, err := s.pool.Exec(ctx, `
            INSERT INTO items (
              category_id, question, answer, image_url, source, external_id
            ) VALUES (
              $1,$2,$3,$4,$5,$6
            )
            ON CONFLICT (category_id, external_id) DO NOTHING
        `,
			categoryID, it.Question, it.Answer, it.ImageURL, it.Source, it.ExternalID,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting item %s: %v\n", it.ExternalID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	fmt.Printf(
		"%s seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		b.Category, len(b.Items), inserted, skipped, errs,
	)
	return inserted, nil
}

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 1) Load the content config
	path := "go/internal/assets/config.yaml"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := content.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	pool, err := pgxpool.New(ctx, dbconfig.NewConfigFromEnv().DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Fetch every enabled source and upsert
	fetched, inserted, err := content.Seed(ctx, cfg, pgSink{pool: pool})
	fmt.Printf("Items seed complete: %d fetched, %d inserted\n", fetched, inserted)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed finished with errors: %v\n", err)
		os.Exit(1)
	}
}
