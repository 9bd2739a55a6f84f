package main

import (
	"context"

	"bonzai/internal/bookings/availability"
	"bonzai/internal/bookings/events"
	"bonzai/internal/bookings/handler"
	"bonzai/internal/bookings/repository"
	"bonzai/internal/bookings/selector"
	"bonzai/internal/bookings/service"
	"bonzai/internal/bookings/validator"
	roomshandler "bonzai/internal/rooms/handler"
	roomsrepository "bonzai/internal/rooms/repository"
	"bonzai/internal/rooms/seed"
	roomsservice "bonzai/internal/rooms/service"
	"bonzai/pkg/app"
	"bonzai/pkg/config"
	"bonzai/pkg/contracts"
	"bonzai/pkg/kafka"
	kafka_config "bonzai/pkg/kafka/config"
	kafka_middleware "bonzai/pkg/kafka/middleware"
	"bonzai/pkg/metrics"
	"bonzai/pkg/store"
	"bonzai/pkg/store/backend"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const ServiceName = "bookings"

func main() {
	cfg := config.Load(ServiceName)
	cfg.Log.Info("Starting Bookings service")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s, err := backend.Open(cfg)
	if err != nil {
		cfg.Log.Fatal("Failed to open store", "error", err)
	}
	cfg.SetRedis()

	rooms := roomsrepository.NewRoomRepository(s)
	if cfg.StoreBackend == config.StoreBackendMemory {
		seedMemoryCatalog(cfg, rooms)
	}

	serverApp := app.NewApplication(cfg, registry)
	publisher := initPublisher(cfg, registry, serverApp)
	bookingService := initServices(cfg, s, rooms, publisher, registry)

	serverApp.SetApp(contracts.Handlers{
		handler.NewBookingHandler(bookingService, cfg.Log),
		roomshandler.NewRoomHandler(roomsservice.NewRoomService(rooms, cfg), cfg.Log),
	})
	serverApp.Run()
}

func initServices(
	cfg *config.Config,
	s store.Store,
	rooms roomsrepository.RoomRepository,
	publisher events.Publisher,
	registry prometheus.Registerer,
) service.BookingService {
	bookingService := service.NewBookingService(
		repository.NewBookingRepository(s),
		rooms,
		selector.New(availability.NewProber(s)),
		validator.NewBookingValidator(cfg.Log),
		publisher,
		metrics.NewBookingMetrics(registry),
		cfg,
	)

	cfg.Log.Info("Booking service initialized", "store_backend", cfg.StoreBackend)
	return bookingService
}

// initPublisher returns a Kafka-backed publisher when brokers are configured
// and a no-op one otherwise.
func initPublisher(cfg *config.Config, registry prometheus.Registerer, serverApp *app.Application) events.Publisher {
	if !cfg.KafkaEnabled() {
		cfg.Log.Info("Kafka brokers not configured, booking events disabled")
		return events.Noop{}
	}

	kafkaCfg, err := kafka_config.Load(cfg.KafkaBrokers)
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log)
	producer, err := kafka.NewProducer(kafkaCfg, cfg.KafkaBookingTopic, cfg.KafkaDLQTopic, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}
	producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
	producer.Use(kafka_middleware.MetricsProducerMiddleware(metrics.NewKafkaMetrics(registry)))

	serverApp.OnShutdown(func() {
		if err := producer.Close(); err != nil {
			cfg.Log.Error("Failed to close Kafka producer", "error", err)
		}
	})

	cfg.Log.Info("Booking events enabled", "topic", cfg.KafkaBookingTopic)
	return events.NewKafkaPublisher(producer)
}

// seedMemoryCatalog loads the room catalog file so the in-memory backend
// starts with rooms. A missing file leaves the catalog empty.
func seedMemoryCatalog(cfg *config.Config, rooms roomsrepository.RoomRepository) {
	catalog, err := seed.LoadFile(cfg.RoomsFile)
	if err != nil {
		cfg.Log.Warn("Room catalog not loaded", "file", cfg.RoomsFile, "error", err)
		return
	}
	if err := seed.Seed(context.Background(), rooms, catalog); err != nil {
		cfg.Log.Fatal("Failed to seed room catalog", "error", err)
	}
	cfg.Log.Info("Room catalog seeded", "file", cfg.RoomsFile, "rooms", len(catalog))
}
