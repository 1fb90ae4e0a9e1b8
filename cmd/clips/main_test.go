package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"recorder/internal/model"
	"recorder/internal/repository/sqlite"
)

func TestPruneClips_RemovesEntriesWithoutFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	db, err := sqlite.New(filepath.Join(root, "clips.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()
	repo := sqlite.NewClipRepository(db)

	created := time.Date(2025, 6, 15, 14, 30, 5, 0, time.UTC)
	kept := "clip_no_person_20250615_143005_0.mp4"
	moved := "clip_no_person_20250615_143005_1.mp4"
	gone := "clip_no_person_20250615_143005_2.mp4"

	if err := os.WriteFile(filepath.Join(dir, kept), []byte("clip"), 0644); err != nil {
		t.Fatalf("Failed to create clip: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, moved), []byte("clip"), 0644); err != nil {
		t.Fatalf("Failed to create clip: %v", err)
	}

	for _, c := range []model.Clip{
		{TaskID: "a", Filename: kept, Camera: "cam1", Timestamp: created, FilePath: filepath.Join(dir, kept)},
		// Recorded relative to another working directory, still found in dir.
		{TaskID: "b", Filename: moved, Camera: "cam1", Timestamp: created, FilePath: filepath.Join("elsewhere", moved)},
		{TaskID: "c", Filename: gone, Camera: "cam1", Timestamp: created, FilePath: filepath.Join(dir, gone)},
	} {
		clip := c
		if _, err := repo.Insert(&clip); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	removed, err := pruneClips(repo, dir)
	if err != nil {
		t.Fatalf("pruneClips failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d entries, expected 1", removed)
	}

	for name, want := range map[string]bool{kept: true, moved: true, gone: false} {
		got, err := repo.GetByFilename(name)
		if err != nil {
			t.Fatalf("GetByFilename failed: %v", err)
		}
		if (got != nil) != want {
			t.Errorf("%s present = %v, expected %v", name, got != nil, want)
		}
	}
}
