package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/kwv/meshreg/mesh"
)

// newHTTPServer creates an HTTP server with all endpoints. defaultView is
// the projection plane used when a preview request has no ?view=.
func newHTTPServer(tracker *mesh.ResultTracker, defaultView string) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			HasResults bool      `json:"hasResults"`
			Jobs       int       `json:"jobs"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			HasResults: tracker.HasResults(),
			Jobs:       len(tracker.List()),
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /results", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tracker.List())
	})

	mux.HandleFunc("GET /results/{id}", func(w http.ResponseWriter, r *http.Request) {
		js, ok := tracker.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "Unknown job", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, js)
	})

	// Preview endpoint: /preview/<job>.png or /preview/<job>.svg
	mux.HandleFunc("GET /preview/{file}", func(w http.ResponseWriter, r *http.Request) {
		file := r.PathValue("file")
		ext := path.Ext(file)
		jobID := strings.TrimSuffix(file, ext)
		if ext != ".png" && ext != ".svg" {
			http.Error(w, "Preview must be .png or .svg", http.StatusNotFound)
			return
		}

		model, scene, rec, status, msg := registeredJob(tracker, jobID)
		if status != http.StatusOK {
			http.Error(w, msg, status)
			return
		}

		plane := r.URL.Query().Get("view")
		if plane == "" {
			plane = defaultView
		}
		view, err := mesh.ViewMatrix(plane)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var buf bytes.Buffer
		if ext == ".png" {
			renderer := mesh.NewOverlayRenderer(model, scene, rec.Result.Transform)
			renderer.View = view
			renderer.Caption = fmt.Sprintf("%s: error %.4g", jobID, rec.Result.Error)
			img := renderer.Render()
			if img == nil {
				http.Error(w, "Nothing to render", http.StatusServiceUnavailable)
				return
			}
			if err := png.Encode(&buf, img); err != nil {
				log.Printf("Error encoding preview PNG: %v", err)
				http.Error(w, "Error encoding preview", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "image/png")
		} else {
			renderer := mesh.NewVectorRenderer(model, scene, rec.Result.Transform)
			renderer.View = view
			if err := renderer.RenderToSVG(&buf); err != nil {
				log.Printf("Error rendering preview SVG: %v", err)
				http.Error(w, "Error rendering preview", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "image/svg+xml")
		}
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing preview: %v", err)
		}
	})

	// GeoJSON endpoint: scene and registered model footprints
	mux.HandleFunc("GET /geojson/{id}", func(w http.ResponseWriter, r *http.Request) {
		model, scene, rec, status, msg := registeredJob(tracker, r.PathValue("id"))
		if status != http.StatusOK {
			http.Error(w, msg, status)
			return
		}
		fc := mesh.RegistrationGeoJSON(model, scene, rec.Result, 0)
		data, err := fc.MarshalJSON()
		if err != nil {
			log.Printf("Error encoding GeoJSON: %v", err)
			http.Error(w, "Error encoding GeoJSON", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		if _, err := w.Write(data); err != nil {
			log.Printf("Error writing GeoJSON: %v", err)
		}
	})

	return mux
}

// registeredJob looks up a job with a result and loaded meshes. status is
// http.StatusOK when all three are available.
func registeredJob(tracker *mesh.ResultTracker, jobID string) (model, scene *mesh.Mesh, rec *mesh.ResultRecord, status int, msg string) {
	js, ok := tracker.Get(jobID)
	if !ok {
		return nil, nil, nil, http.StatusNotFound, "Unknown job"
	}
	if js.Record == nil {
		return nil, nil, nil, http.StatusServiceUnavailable, "No result yet"
	}
	model, scene, ok = tracker.Meshes(jobID)
	if !ok {
		return nil, nil, nil, http.StatusServiceUnavailable, "Meshes not loaded"
	}
	return model, scene, js.Record, http.StatusOK, ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
