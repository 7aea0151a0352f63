package main

import (
	"context"
	"log"

	"floatingtimer/backend/internal/clock"
	"floatingtimer/backend/internal/config"
	"floatingtimer/backend/internal/db"
	"floatingtimer/backend/internal/handler"
	"floatingtimer/backend/internal/prefs"
	"floatingtimer/backend/internal/repository"
	"floatingtimer/backend/internal/router"
	"floatingtimer/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, db.MigrationsFS(cfg.MigrationsDir)); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	entryRepo := repository.NewEntryRepository(database)
	timerService := service.NewTimerService(entryRepo, clock.System{}, service.OptionsFromConfig(cfg))
	defer timerService.Close()

	state, err := timerService.Rehydrate(context.Background())
	if err != nil {
		log.Fatalf("rehydrate timer: %v", err)
	}
	log.Printf("timer %s for owner %s", state.Phase, cfg.OwnerID)

	timerHandler := handler.NewTimerHandler(timerService, clock.System{})
	layoutHandler := handler.NewLayoutHandler(prefs.NewStore(cfg.LayoutPath))

	engine := router.New(timerHandler, layoutHandler, cfg.CORSOrigins)
	log.Printf("backend listening on :%s", cfg.Port)
	if err := engine.Run(":" + cfg.Port); err != nil {
		log.Fatalf("run server: %v", err)
	}
}
