// Command testclient checks a running solver's gRPC health and asks it to
// solve one page over HTTP.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "recaptcha-audio-solver/internal/api/grpc"
)

func main() {
	grpcAddr := flag.String("grpc", "localhost:50051", "gRPC server address")
	httpAddr := flag.String("http", "http://localhost:8080", "HTTP base URL")
	pageURL := flag.String("url", "https://www.google.com/recaptcha/api2/demo", "page to solve")
	flag.Parse()

	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: grpcapi.ServiceName})
	cancel()
	if err != nil {
		log.Fatalf("health check failed: %v", err)
	}
	log.Printf("Health: %s", resp.GetStatus())

	body, _ := json.Marshal(map[string]string{"url": *pageURL})
	client := &http.Client{Timeout: 3 * time.Minute}
	start := time.Now()
	res, err := client.Post(*httpAddr+"/v1/solve", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("solve request failed: %v", err)
	}
	defer res.Body.Close()

	out, err := io.ReadAll(res.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	log.Printf("Solve: status=%d elapsed=%s body=%s", res.StatusCode, time.Since(start).Round(time.Millisecond), bytes.TrimSpace(out))
}
