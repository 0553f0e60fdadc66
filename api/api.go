package api

import (
	"github.com/go-errors/errors"
	"github.com/gorilla/mux"
	"github.com/the-lightning-land/lnshell/controller"
	"net"
	"net/http"
)

type Config struct {
	Log Logger
}

type Api struct {
	controller *controller.Controller
	router     *mux.Router
	log        Logger
}

var _ controller.Api = (*Api)(nil)

func New(config *Config) *Api {
	api := &Api{
		router: mux.NewRouter(),
	}

	if config.Log != nil {
		api.log = config.Log
	} else {
		api.log = noopLogger{}
	}

	api.router.Handle("/api/v1/node", api.handleGetNode()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/balances", api.handleGetBalances()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/channels", api.handleGetChannels()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/events", api.handleGetEvents()).Methods(http.MethodGet)

	return api
}

func (a *Api) SetController(controller *controller.Controller) {
	a.controller = controller
}

func (a *Api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *Api) Serve(l net.Listener) error {
	err := http.Serve(l, a.router)
	if err != nil {
		return errors.Errorf("Unable to serve api: %v", err)
	}

	return nil
}
