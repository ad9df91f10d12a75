// Package runner executes one submission: it derives consistent timing,
// distance and speed figures, synthesizes the trail, and drives the
// two-phase upstream exchange.
package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"time"

	"sunrunner/internal/domain"
	"sunrunner/internal/geomath"
	"sunrunner/internal/infra"
	"sunrunner/internal/route"
)

// The upstream service runs on Beijing wall-clock time regardless of where
// the worker is deployed.
var beijing = time.FixedZone("CST", 8*3600)

const (
	pathRunBegin        = "sunrun/getRunBegin"
	pathExercises       = "platform/recrecord/sunRunExercises"
	pathExercisesDetail = "platform/recrecord/sunRunExercisesDetail"

	// energy figure the app derives from distance, kcal per km.
	consumePerKm = 67.34

	phoneInfo  = "$CN11/iPhone15,4/17.4.1"
	appVersion = "1.2.14"
)

// Submitter is the slice of the upstream client the engine needs.
type Submitter interface {
	PostEncrypted(ctx context.Context, path string, body any) (map[string]any, error)
	PostJSON(ctx context.Context, path string, body any) (map[string]any, error)
}

// Engine performs submissions for locked tasks.
type Engine struct {
	client  Submitter
	sampler *geomath.Sampler
	logger  infra.Logger
	now     func() time.Time
}

// NewEngine builds an execution engine.
func NewEngine(client Submitter, sampler *geomath.Sampler, logger infra.Logger) *Engine {
	return &Engine{client: client, sampler: sampler, logger: logger, now: time.Now}
}

type basicRequest struct {
	CampusID  string `json:"campusId"`
	SchoolID  string `json:"schoolId"`
	StuNumber string `json:"stuNumber"`
	Token     string `json:"token"`
}

// submissionRequest mirrors the field set of the app's record endpoint.
// Everything travels as strings; the service rejects numeric JSON types.
type submissionRequest struct {
	LocalSubmitReason string `json:"LocalSubmitReason"`
	AvgSpeed          string `json:"avgSpeed"`
	BaseStation       string `json:"baseStation"`
	EndTime           string `json:"endTime"`
	EvaluateDate      string `json:"evaluateDate"`
	FitDegree         string `json:"fitDegree"`
	Flag              string `json:"flag"`
	HeadImage         string `json:"headImage"`
	IfLocalSubmit     string `json:"ifLocalSubmit"`
	Km                string `json:"km"`
	Mac               string `json:"mac"`
	PhoneInfo         string `json:"phoneInfo"`
	PhoneNumber       string `json:"phoneNumber"`
	PointList         string `json:"pointList"`
	RouteID           string `json:"routeId"`
	RunType           string `json:"runType"`
	RunTimeType       string `json:"runTimeType"`
	SensorString      string `json:"sensorString"`
	StartTime         string `json:"startTime"`
	Steps             string `json:"steps"`
	StuNumber         string `json:"stuNumber"`
	SubmitDate        string `json:"submitDate"`
	TaskID            string `json:"taskId"`
	Token             string `json:"token"`
	UsedTime          string `json:"usedTime"`
	Version           string `json:"version"`
	Consume           string `json:"consume"`
	WarnFlag          string `json:"warnFlag"`
	WarnType          string `json:"warnType"`
	FaceData          string `json:"faceData"`
}

type detailRequest struct {
	PointList  []route.TrailPoint `json:"pointList"`
	ScantronID string             `json:"scantronId"`
	StuNumber  string             `json:"stuNumber"`
	Token      string             `json:"token"`
}

// plan is the resolved timing/distance tuple for one submission.
type plan struct {
	req        submissionRequest
	adjustedKm float64
}

// Execute runs the full submission for the given payload and returns a
// human-readable summary on success.
func (e *Engine) Execute(ctx context.Context, data domain.UserData) (string, error) {
	if data.Session == nil || data.RunPoint == nil {
		return "", domain.ErrMissingTaskData
	}

	p, err := e.buildPlan(data)
	if err != nil {
		return "", err
	}

	basic := basicRequest{
		CampusID:  data.Session.CampusID,
		SchoolID:  data.Session.SchoolID,
		StuNumber: data.Session.StuNumber,
		Token:     data.Session.Token,
	}
	if _, err := e.client.PostEncrypted(ctx, pathRunBegin, basic); err != nil {
		return "", err
	}

	exercises, err := e.client.PostEncrypted(ctx, pathExercises, p.req)
	if err != nil {
		return "", err
	}
	scantronID, ok := scantronID(exercises)
	if !ok {
		return "", &domain.UpstreamError{
			Path:   pathExercises,
			Status: 200,
			Body:   fmt.Sprintf("response missing scantronId: %v", exercises),
		}
	}

	trail, achievedKm, err := route.Synthesize(data.RunPoint.PointList, p.adjustedKm, e.sampler)
	if err != nil {
		return "", err
	}

	detail := detailRequest{
		PointList:  trail,
		ScantronID: scantronID,
		StuNumber:  data.Session.StuNumber,
		Token:      data.Session.Token,
	}
	if _, err := e.client.PostJSON(ctx, pathExercisesDetail, detail); err != nil {
		return "", err
	}

	e.logger.Info().
		Float64("km", achievedKm).
		Str("pace", p.req.AvgSpeed).
		Str("used_time", p.req.UsedTime).
		Msg("submission accepted")
	return fmt.Sprintf("submitted %.2f km, avg speed %s km/h, time %s", achievedKm, p.req.AvgSpeed, p.req.UsedTime), nil
}

func (e *Engine) buildPlan(data domain.UserData) (plan, error) {
	minSec := float64(data.MinTime) * 60
	maxSec := float64(data.MaxTime) * 60
	avgSec := (minSec + maxSec) / 2
	stdSec := math.Max(5, (maxSec-minSec)/6)
	waitSec := math.Min(maxSec, math.Max(minSec, math.Floor(e.sampler.Normal(avgSec, stdSec))))
	wait := time.Duration(waitSec) * time.Second

	now := e.now().In(beijing)

	customEnd, err := parseCustomEndTime(data.CustomEndTime)
	if err != nil {
		return plan{}, err
	}
	semesterStart, err := parseStartDate(data.StartDate)
	if err != nil {
		return plan{}, err
	}
	if customEnd != nil {
		if customEnd.After(now) {
			return plan{}, domain.ErrEndTimeInFuture
		}
		if semesterStart != nil && customEnd.Before(*semesterStart) {
			return plan{}, domain.ErrEndBeforeSemester
		}
	}

	end := now.Add(wait)
	start := now
	if customEnd != nil {
		end = *customEnd
		start = end.Add(-wait)
	}

	adjustedKm := data.Mileage + e.sampler.Float64()*0.05 + 0.01
	avgSpeed := strconv.FormatFloat(adjustedKm/(waitSec/3600), 'f', 2, 64)

	runDate := end.Format("2006-01-02")
	today := now.Format("2006-01-02")
	// Backfill means the evaluated day is not today; the app then expects
	// the date fields to name the evaluated day, not the submission moment.
	isBackfill := customEnd != nil && runDate != today
	evaluateDate := end.Format("2006-01-02 15:04:05")
	submitDate := today
	localSubmitReason := ""
	ifLocalSubmit := "0"
	if isBackfill {
		evaluateDate = runDate
		submitDate = runDate
		localSubmitReason = "offline-backfill"
		ifLocalSubmit = "1"
	}

	req := submissionRequest{
		LocalSubmitReason: localSubmitReason,
		AvgSpeed:          avgSpeed,
		EndTime:           end.Format("15:04:05"),
		EvaluateDate:      evaluateDate,
		FitDegree:         "1",
		Flag:              "1",
		IfLocalSubmit:     ifLocalSubmit,
		Km:                strconv.FormatFloat(adjustedKm, 'f', 2, 64),
		Mac:               deviceMac(data.Session.StuNumber),
		PhoneInfo:         phoneInfo,
		PhoneNumber:       data.Session.PhoneNumber,
		RouteID:           data.RunPoint.PointID,
		RunType:           "0",
		RunTimeType:       "0",
		StartTime:         start.Format("15:04:05"),
		Steps:             strconv.Itoa(1000 + e.sampler.Intn(1000)),
		StuNumber:         data.Session.StuNumber,
		SubmitDate:        submitDate,
		TaskID:            data.RunPoint.TaskID,
		Token:             data.Session.Token,
		UsedTime:          geomath.FormatDuration(end.Sub(start)),
		Version:           appVersion,
		Consume:           strconv.Itoa(int(math.Round(adjustedKm * consumePerKm))),
		WarnFlag:          "0",
		WarnType:          "0",
	}

	return plan{req: req, adjustedKm: math.Round(adjustedKm*100) / 100}, nil
}

// deviceMac derives the stable device fingerprint the app sends: the first
// 32 hex characters of SHA-256 over the student number.
func deviceMac(stuNumber string) string {
	sum := sha256.Sum256([]byte(stuNumber))
	return hex.EncodeToString(sum[:])[:32]
}

// scantronID extracts the correlation id from the exercises response, which
// some deployments return as a string and others as a number.
func scantronID(res map[string]any) (string, bool) {
	switch v := res["scantronId"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

// parseCustomEndTime accepts "YYYY-MM-DD HH:MM[:SS]" (or a T separator),
// assumed to be Beijing time unless an explicit zone is present.
func parseCustomEndTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	layouts := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, beijing); err == nil {
			return &t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.In(beijing)
		return &t, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrBadCustomEndTime, raw)
}

func parseStartDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, beijing); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", raw, beijing); err == nil {
		return &t, nil
	}
	return nil, nil
}
