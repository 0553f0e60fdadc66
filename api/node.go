package api

import (
	"github.com/the-lightning-land/lnshell/node"
	"net/http"
)

type getChannelsResponse struct {
	Channels []*node.Channel `json:"channels"`
}

func (a *Api) handleGetNode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := a.controller.GetInfo(r.Context())
		if err != nil {
			a.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		a.jsonResponse(w, info, http.StatusOK)
	}
}

func (a *Api) handleGetBalances() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		balances, err := a.controller.GetBalances(r.Context())
		if err != nil {
			a.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		a.jsonResponse(w, balances, http.StatusOK)
	}
}

func (a *Api) handleGetChannels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := a.controller.GetChannels(r.Context())
		if err != nil {
			a.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if channels == nil {
			channels = []*node.Channel{}
		}

		a.jsonResponse(w, &getChannelsResponse{
			Channels: channels,
		}, http.StatusOK)
	}
}
