package main

import (
	"context"
	"flag"
	"time"

	roomsrepository "bonzai/internal/rooms/repository"
	"bonzai/internal/rooms/seed"
	"bonzai/pkg/config"
	"bonzai/pkg/store/backend"
)

const JobName = "seed"

func main() {
	cfg := config.Load(JobName)
	defer cfg.GracefulShutdown()

	file := flag.String("file", cfg.RoomsFile, "room catalog YAML file")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if cfg.StoreBackend == config.StoreBackendMemory {
		cfg.Log.Fatal("Seeding the in-memory store has no effect, the bookings service seeds it on startup")
	}

	rooms, err := seed.LoadFile(*file)
	if err != nil {
		cfg.Log.Fatal("Failed to load room catalog", "file", *file, "error", err)
	}

	s, err := backend.Open(cfg)
	if err != nil {
		cfg.Log.Fatal("Failed to open store", "error", err)
	}

	if err := seed.Seed(ctx, roomsrepository.NewRoomRepository(s), rooms); err != nil {
		cfg.Log.Fatal("Failed to seed room catalog", "error", err)
	}
	cfg.Log.Info("Room catalog seeded", "file", *file, "rooms", len(rooms))
}
