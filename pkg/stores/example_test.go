package stores_test

import (
	"context"
	"fmt"
	"time"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/stores"
)

// Example_manifestCatalog shows the store used as the backup catalog.
func Example_manifestCatalog() {
	ctx := context.Background()

	store, err := stores.Open(ctx, stores.Config{Path: stores.MemoryPath})
	if err != nil {
		fmt.Println("open:", err)
		return
	}
	defer store.Close()

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"20240301T120000", "20240301T120500"} {
		_ = store.Save(ctx, &engine.BackupManifest{
			ID:          id,
			SourcePaths: []string{"/src/app.py"},
			CreatedAt:   created.Add(time.Duration(i) * 5 * time.Minute),
		})
	}

	latest, err := store.Latest(ctx)
	if err != nil {
		fmt.Println("latest:", err)
		return
	}
	fmt.Println(latest.ID)
	// Output: 20240301T120500
}
