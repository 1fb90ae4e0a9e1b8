package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"recorder/internal/dto"
	"recorder/internal/model"
	"recorder/internal/repository"
	"recorder/internal/repository/sqlite"
	"recorder/internal/service/export"
)

func main() {
	clipsDir := flag.String("clips", "recordings", "Directory containing clips")
	dbPath := flag.String("db", "data/clips.db", "Database path")
	camera := flag.String("camera", "cam1", "Camera recorded for indexed clips")
	index := flag.Bool("index", false, "Add clips found in the directory to the database and prune missing ones")
	prune := flag.Bool("prune", false, "Remove catalogue entries whose clip file is gone")
	list := flag.Int("list", 20, "Number of latest clips to list (0 = none)")
	events := flag.Int("events", 0, "Number of latest presence events to list")
	flag.Parse()

	// Ensure database directory exists
	if err := os.MkdirAll(filepath.Dir(*dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewClipRepository(db)

	if *index {
		indexClips(repo, *clipsDir, *camera)
	}
	if *index || *prune {
		removed, err := pruneClips(repo, *clipsDir)
		if err != nil {
			log.Fatalf("Failed to prune clips: %v", err)
		}
		fmt.Printf("🧹 Removed %d catalogue entries without a clip file\n", removed)
	}

	total, err := repo.GetTotalCount(nil)
	if err != nil {
		log.Fatalf("Failed to count clips: %v", err)
	}
	size, err := repo.GetTotalSize()
	if err != nil {
		log.Fatalf("Failed to sum clip sizes: %v", err)
	}

	fmt.Printf("\n📊 Clip catalogue %s:\n", *dbPath)
	fmt.Printf("   Total clips: %d\n", total)
	fmt.Printf("   Total size: %d bytes\n", size)

	if *list > 0 {
		clips, err := repo.GetAll(&dto.ClipFilter{Limit: *list})
		if err != nil {
			log.Fatalf("Failed to list clips: %v", err)
		}
		for _, c := range clips {
			fmt.Printf("   - %s  %s  %s  %d frames  %.1fs\n",
				c.Timestamp.Local().Format(time.DateTime), c.Camera, c.Filename, c.FrameCount, c.Duration)
		}
	}

	if *events > 0 {
		printEvents(sqlite.NewEventRepository(db), *events)
	}
}

// printEvents shows the latest presence transitions and how they ended.
func printEvents(repo *sqlite.EventRepository, limit int) {
	counts, err := repo.CountByOutcome()
	if err != nil {
		log.Fatalf("Failed to count events: %v", err)
	}

	fmt.Printf("\n🚶 Presence events:\n")
	for outcome, count := range counts {
		fmt.Printf("   %s: %d\n", outcome, count)
	}

	recent, err := repo.GetRecent("", limit)
	if err != nil {
		log.Fatalf("Failed to list events: %v", err)
	}
	for _, e := range recent {
		fmt.Printf("   - %s  %s  frame %d  present %v  %s %s\n",
			e.At.Local().Format(time.DateTime), e.Camera, e.Seq,
			e.At.Sub(e.PresentSince).Round(time.Second), e.Outcome, e.Filename)
	}
}

// indexClips inserts clip files that are not yet in the catalogue.
func indexClips(repo *sqlite.ClipRepository, dir, camera string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("Failed to read clips directory: %v", err)
	}

	added, skipped := 0, 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		created, _, err := export.ParseFilename(file.Name())
		if err != nil {
			continue
		}

		existing, err := repo.GetByFilename(file.Name())
		if err != nil {
			log.Fatalf("Failed to look up %s: %v", file.Name(), err)
		}
		if existing != nil {
			skipped++
			continue
		}

		info, err := file.Info()
		if err != nil {
			log.Printf("⚠️  Failed to get info for %s: %v", file.Name(), err)
			skipped++
			continue
		}

		clip := model.Clip{
			TaskID:    "indexed",
			Filename:  file.Name(),
			Camera:    camera,
			Timestamp: created,
			FilePath:  filepath.Join(dir, file.Name()),
			FileSize:  info.Size(),
		}
		if _, err := repo.Insert(&clip); err != nil {
			log.Printf("⚠️  Failed to index %s: %v", file.Name(), err)
			skipped++
			continue
		}
		added++
	}

	fmt.Printf("✅ Indexed %d clips from %s\n", added, dir)
	if skipped > 0 {
		fmt.Printf("⚠️  Skipped %d files (already indexed or errors)\n", skipped)
	}
}

// pruneClips deletes catalogue rows whose file exists neither at its recorded
// path nor in dir.
func pruneClips(repo repository.ClipRepository, dir string) (int, error) {
	clips, err := repo.GetAll(nil)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, c := range clips {
		if fileExists(c.FilePath) || fileExists(filepath.Join(dir, c.Filename)) {
			continue
		}
		if err := repo.DeleteByFilename(c.Filename); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
