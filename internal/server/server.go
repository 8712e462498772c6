package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/finbridge/payhub/internal/config"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/internal/payment/webhook"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Engine   *gin.Engine
	Gateway  domain.GatewayService
	Ingestor *webhook.Ingestor
	DB       *gorm.DB            `optional:"true"`
	Gatherer prometheus.Gatherer `optional:"true"`
}

type Server struct {
	engine   *gin.Engine
	log      *zap.Logger
	gateway  domain.GatewayService
	ingestor *webhook.Ingestor
	db       *gorm.DB
	gatherer prometheus.Gatherer
}

func NewServer(p Params) *Server {
	return &Server{
		engine:   p.Engine,
		log:      p.Log.Named("server"),
		gateway:  p.Gateway,
		ingestor: p.Ingestor,
		db:       p.DB,
		gatherer: p.Gatherer,
	}
}

// NewEngine builds the gin engine with request ids, access logging and panic
// recovery installed.
func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(RequestID(), AccessLog(log.Named("http")), Recovery(log.Named("http")))
	return engine
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) RegisterRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/readyz", s.Readyz)
	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.engine.POST("/webhooks/:providerCode", s.ReceiveWebhook)

	actions := s.engine.Group("/actions")
	actions.POST("/registerProvider", s.RegisterProvider)
	actions.POST("/updateProvider", s.UpdateProvider)
	actions.POST("/deleteProvider", s.DeleteProvider)
	actions.POST("/getProvider", s.GetProvider)
	actions.POST("/listProviders", s.ListProviders)

	actions.POST("/createTransaction", s.CreateTransaction)
	actions.POST("/executePayment", s.ExecutePayment)
	actions.POST("/checkPaymentStatus", s.CheckPaymentStatus)
	actions.POST("/refundPayment", s.RefundPayment)
	actions.POST("/getTransaction", s.GetTransaction)
	actions.POST("/listTransactions", s.ListTransactions)

	actions.POST("/savePaymentMethod", s.SavePaymentMethod)
	actions.POST("/deletePaymentMethod", s.DeletePaymentMethod)
	actions.POST("/listPaymentMethods", s.ListPaymentMethods)

	actions.POST("/createRecurringPayment", s.CreateRecurringPayment)
	actions.POST("/updateRecurringPaymentStatus", s.UpdateRecurringPaymentStatus)
	actions.POST("/getRecurringPayment", s.GetRecurringPayment)
	actions.POST("/listRecurringPayments", s.ListRecurringPayments)

	actions.POST("/processWebhook", s.ProcessWebhook)
	actions.POST("/replayWebhookEvent", s.ReplayWebhookEvent)
	actions.POST("/listWebhookEvents", s.ListWebhookEvents)
}

// RunHTTP serves until the fx application stops.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Readyz(c *gin.Context) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "message": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
