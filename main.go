package main

import (
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"report-service/admission"
	"report-service/cache"
	"report-service/classifier"
	"report-service/cloudinary"
	"report-service/config"
	"report-service/database"
	"report-service/handlers"
	"report-service/metrics"
	"report-service/middleware"
	"report-service/rabbitmq"
	"report-service/utils"
	"report-service/version"
)

// API endpoints
const (
	EndPointHealth  = "/health"
	EndPointVersion = "/version"
	EndPointMetrics = "/metrics"

	EndPointReports   = "/reports"
	EndPointMyReports = "/reports/mine"
	EndPointReport    = "/reports/:id"
	EndPointNearby    = "/reports/nearby"
	EndPointMap       = "/reports/map"

	EndPointSupReports   = "/supervisor/reports"
	EndPointSupReport    = "/supervisor/reports/:id"
	EndPointSupAssign    = "/supervisor/reports/:id/assign"
	EndPointSupResolve   = "/supervisor/reports/:id/resolve"
	EndPointSupReject    = "/supervisor/reports/:id/reject"
	EndPointSupOOS       = "/supervisor/reports/:id/out-of-scope"
	EndPointSupPermanent = "/supervisor/reports/:id/permanent-resolve"
	EndPointSupProfile   = "/supervisor/profile"
)

func main() {
	cfg := config.Load()

	db, err := utils.DBConnect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.InitSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	metrics.Register()

	verdicts := cache.New(cfg.CacheTTL)
	defer verdicts.Stop()

	detector := classifier.NewClient(classifier.Config{
		Endpoint:   cfg.ClassifierURL,
		APIKey:     cfg.ClassifierAPIKey,
		Model:      cfg.ClassifierModel,
		WasteClass: cfg.WasteClass,
		Timeout:    cfg.ClassifierTimeout,
	}, verdicts)

	storage := cloudinary.New(cloudinary.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryFolder,
	})

	service := database.NewService(db)
	controller := admission.NewController(detector, storage, service, service, cfg.UploadTimeout)

	var publisher handlers.Publisher
	if cfg.AMQPURL != "" {
		p, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			log.Warnf("RabbitMQ unavailable, continuing without publishing: %v", err)
		} else {
			defer p.Close()
			publisher = p
		}
	}

	h := handlers.New(service, controller, storage, publisher)

	router := gin.Default()
	router.Use(middleware.CORSMiddleware())

	router.GET(EndPointHealth, h.HealthCheck)
	router.GET(EndPointVersion, func(c *gin.Context) {
		c.JSON(200, version.Get("report-service"))
	})
	router.GET(EndPointMetrics, gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v3")
	api.Use(middleware.AuthMiddleware([]byte(cfg.JWTSecret)))
	{
		api.POST(EndPointReports, h.CreateReport)
		api.GET(EndPointReports, h.ListReports)
		api.GET(EndPointMyReports, h.MyReports)
		api.GET(EndPointNearby, h.NearbyReports)
		api.GET(EndPointMap, h.MapReports)
		api.DELETE(EndPointReport, h.DeleteReport)

		sup := api.Group("")
		sup.Use(middleware.RequireSupervisor())
		{
			sup.GET(EndPointSupReports, h.ListByStatus)
			sup.GET(EndPointSupReport, h.GetResolvedReport)
			sup.POST(EndPointSupAssign, h.Assign)
			sup.POST(EndPointSupResolve, h.Resolve)
			sup.POST(EndPointSupReject, h.Reject)
			sup.POST(EndPointSupOOS, h.MarkOutOfScope)
			sup.POST(EndPointSupPermanent, h.PermanentResolve)
			sup.GET(EndPointSupProfile, h.SupervisorProfile)
		}
	}

	log.Infof("Starting report service on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
