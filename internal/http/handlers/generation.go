package handlers

import "net/http"

func (a *App) GenerateShot(w http.ResponseWriter, r *http.Request) {
	a.trigger(a.Pipeline.GenerateShotImage)(w, r)
}

func (a *App) GenerateShotVideo(w http.ResponseWriter, r *http.Request) {
	a.trigger(a.Pipeline.GenerateShotVideo)(w, r)
}

func (a *App) GenerateSceneVideoSequence(w http.ResponseWriter, r *http.Request) {
	a.trigger(a.Pipeline.GenerateSceneVideos)(w, r)
}

func (a *App) GenerateAll(w http.ResponseWriter, r *http.Request) {
	a.trigger(a.Pipeline.GenerateStoryImages)(w, r)
}

func (a *App) GenerateAllVideos(w http.ResponseWriter, r *http.Request) {
	a.trigger(a.Pipeline.GenerateStoryVideos)(w, r)
}

// ProgressSocket upgrades to the progress websocket.
func (a *App) ProgressSocket(w http.ResponseWriter, r *http.Request) {
	if a.Progress == nil {
		a.detail(w, http.StatusServiceUnavailable, "progress stream unavailable")
		return
	}
	a.Progress.ServeHTTP(w, r)
}
