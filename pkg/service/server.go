package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/negroni/v3"

	"github.com/voxcast/voxcast-server/pkg/config"
	serverlogger "github.com/voxcast/voxcast-server/pkg/logger"
	"github.com/voxcast/voxcast-server/pkg/media"
	"github.com/voxcast/voxcast-server/version"
)

type VoxcastServer struct {
	config      *config.Config
	roomManager *RoomManager
	rtcService  *RTCService
	pool        *media.Pool
	httpServer  *http.Server

	running  atomic.Bool
	doneChan chan struct{}
}

func NewVoxcastServer(conf *config.Config, engine media.Engine) (*VoxcastServer, error) {
	pool, err := media.NewPool(engine, conf.Media.NumWorkers, conf.Media.DiedGracePeriod, media.WorkerOptions{
		PortRangeStart: conf.RTC.PortRangeStart,
		PortRangeEnd:   conf.RTC.PortRangeEnd,
		STUNServers:    conf.RTC.STUNServers,
		LoggerFactory:  serverlogger.LoggerFactory(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not start media workers")
	}

	s := &VoxcastServer{
		config: conf,
		pool:   pool,
	}
	s.roomManager = NewRoomManager(pool, conf.Room.CodecCapabilities())
	s.rtcService = NewRTCService(s.roomManager)

	middlewares := []negroni.Handler{
		// always the first
		negroni.NewRecovery(),
	}

	mux := http.NewServeMux()
	mux.Handle("/rtc", s.rtcService)
	mux.HandleFunc("/", s.healthCheck)

	s.httpServer = &http.Server{
		Handler: configureMiddlewares(mux, middlewares...),
	}

	// a dead worker takes the process down once the grace period lapses
	pool.OnShutdown(func(err error) {
		s.Stop()
	})

	return s, nil
}

func (s *VoxcastServer) RoomManager() *RoomManager {
	return s.roomManager
}

func (s *VoxcastServer) HTTPHandler() http.Handler {
	return s.httpServer.Handler
}

func (s *VoxcastServer) IsRunning() bool {
	return s.running.Load()
}

// Start serves until Stop is called, then drains connections and releases
// the media workers.
func (s *VoxcastServer) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("already running")
	}
	s.doneChan = make(chan struct{})

	addresses := s.config.BindAddresses
	if len(addresses) == 0 {
		if s.config.Development {
			addresses = []string{"127.0.0.1"}
		} else {
			addresses = []string{""}
		}
	}

	listeners := make([]net.Listener, 0, len(addresses))
	for _, addr := range addresses {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, s.config.Port))
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			s.running.Store(false)
			return err
		}
		listeners = append(listeners, ln)
	}

	for _, ln := range listeners {
		go func(ln net.Listener) {
			_ = s.httpServer.Serve(ln)
		}(ln)
	}

	serverlogger.Infow("starting voxcast server",
		"version", version.Version,
		"addresses", addresses,
		"port", s.config.Port,
		"mediaWorkers", s.pool.Size(),
	)

	<-s.doneChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)

	s.roomManager.Stop()
	s.pool.Close()
	return nil
}

func (s *VoxcastServer) Stop() {
	if s.running.CompareAndSwap(true, false) {
		close(s.doneChan)
	}
}

func (s *VoxcastServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "voxcast server %s is running\n", version.Version)
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
