package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var maxDevices int = 1000
var httpHostPort string = "127.0.0.1:1080"

var rnd *rand.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))

var vitalTypes = []string{"heart_rate", "spo2", "glucose", "weight", "temperature", "blood_pressure"}

func main() {
	hardwareIDs := make([]string, maxDevices)
	for i := 0; i < maxDevices; i++ {
		hardwareIDs[i] = uuid.NewString()
	}
	fmt.Printf("generated %v hardware IDs\n", maxDevices)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", httpHostPort))
	if err != nil {
		log.Fatal("Failed to connect to HTTP server:", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatal("HTTP server not available")
	}

	fmt.Printf("http server verified\n")

	var startTime time.Time
	var usedTime time.Duration

	startTime = time.Now()
	wg := sync.WaitGroup{}
	for i := 0; i < maxDevices; i++ {
		i := i
		wg.Add(1)
		go func() {
			registerDevice(hardwareIDs[i], i)
			fmt.Printf("\rregistered device %v", i)
			wg.Done()
		}()
	}
	wg.Wait()
	usedTime = time.Since(startTime)

	fmt.Printf(
		"\rregistered %v devices: used time=%v seconds, throughput=%v action/second\n",
		maxDevices, usedTime.Seconds(), float64(maxDevices)/usedTime.Seconds(),
	)

	startTime = time.Now()
	wg = sync.WaitGroup{}
	for i := 0; i < maxDevices; i++ {
		i := i
		wg.Add(1)
		go func() {
			doAction(hardwareIDs[i], i)
			wg.Done()
		}()
	}
	wg.Wait()
	usedTime = time.Since(startTime)

	fmt.Printf(
		"\n\rdid actions for %v devices: used time=%v seconds, throughput=%v action/second\n",
		maxDevices, usedTime.Seconds(), float64(maxDevices*3)/usedTime.Seconds(),
	)
}

func rndFloat64(min, max float64, decimal int) float64 {
	val := min + rnd.Float64()*(max-min)
	multiplier := float64(math.Pow10(decimal))
	return float64(math.Round(float64(val)*float64(multiplier))) / multiplier
}

func patientIDFor(index int) string {
	return fmt.Sprintf("patient-%04d", index)
}

func registerDevice(hardwareID string, index int) {
	payload := map[string]string{
		"hardware_id": hardwareID,
		"serial":      fmt.Sprintf("SN-%06d", index),
		"patient_id":  patientIDFor(index),
	}
	jsonData, _ := json.Marshal(payload)
	resp, err := http.Post(fmt.Sprintf("http://%s/devices", httpHostPort), "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		panic(fmt.Sprintf("register device failed: %v", resp.StatusCode))
	}
}

func doAction(hardwareID string, index int) {
	actions := []func(){
		genPostTelemetryAction(hardwareID),
		genGetReadingsAction(index),
		genGetAlertsAction(index),
	}
	actionNames := []string{
		"PostTelemetry",
		"GetReadings",
		"GetAlerts",
	}
	rnd.Shuffle(len(actions), func(i, j int) {
		actions[i], actions[j] = actions[j], actions[i]
		actionNames[i], actionNames[j] = actionNames[j], actionNames[i]
	})
	for i, action := range actions {
		action()
		fmt.Printf("\rexecuted action %v for device %v", actionNames[i], hardwareID)
		time.Sleep(time.Duration(100+rnd.Int31n(1000)) * time.Millisecond)
	}
}

func genPostTelemetryAction(hardwareID string) func() {
	return func() {
		vitalType := vitalTypes[rnd.Intn(len(vitalTypes))]

		payload := map[string]any{
			"hardware_id": hardwareID,
			"vital_type":  vitalType,
			"recorded_at": time.Now().Format(time.RFC3339Nano),
		}
		switch vitalType {
		case "blood_pressure":
			payload["systolic"] = rndFloat64(85.0, 180.0, 0)
			payload["diastolic"] = rndFloat64(55.0, 110.0, 0)
			payload["unit"] = "mmHg"
		case "heart_rate":
			payload["value"] = rndFloat64(45.0, 140.0, 0)
			payload["unit"] = "bpm"
		case "spo2":
			payload["value"] = rndFloat64(88.0, 100.0, 0)
			payload["unit"] = "%"
		case "glucose":
			payload["value"] = rndFloat64(50.0, 250.0, 1)
			payload["unit"] = "mg/dL"
			payload["meal_context"] = "fasting"
		case "weight":
			payload["value"] = rndFloat64(50.0, 120.0, 1)
			payload["unit"] = "kg"
		case "temperature":
			payload["value"] = rndFloat64(35.5, 40.0, 1)
			payload["unit"] = "C"
		}

		jsonData, _ := json.Marshal(payload)
		resp, err := http.Post(fmt.Sprintf("http://%s/telemetry", httpHostPort), "application/json", bytes.NewBuffer(jsonData))
		if err != nil {
			fmt.Printf("\nerror: %v\n", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusTooManyRequests {
			fmt.Printf("\nresponse status code = %v\n", resp.StatusCode)
		}
	}
}

func genGetReadingsAction(index int) func() {
	return func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/patients/%s/readings", httpHostPort, patientIDFor(index)))
		if err != nil {
			fmt.Printf("\nerror: %v\n", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("\nresponse status code != 200: %v\n", resp)
		}
	}
}

func genGetAlertsAction(index int) func() {
	return func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/patients/%s/alerts", httpHostPort, patientIDFor(index)))
		if err != nil {
			fmt.Printf("\nerror: %v\n", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("\nresponse status code != 200: %v\n", resp)
		}
	}
}
