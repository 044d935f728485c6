package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/claimdesk/claimdesk/internal/backend"
	"github.com/claimdesk/claimdesk/internal/damage"
	jobmetrics "github.com/claimdesk/claimdesk/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ClaimSource loads claims and their photos.
type ClaimSource interface {
	GetClaim(ctx context.Context, id int64) (*backend.Claim, error)
	ClaimImage(ctx context.Context, claimID, imageID int64) (*backend.Image, error)
	FetchURL(ctx context.Context, rawURL string) (*backend.Image, error)
}

// Assessor runs the damage model.
type Assessor interface {
	Assess(ctx context.Context, req damage.Request) (*damage.Report, error)
}

// ReportSaver persists finished reports.
type ReportSaver interface {
	Save(ctx context.Context, stored damage.StoredReport) error
}

// DamageAssessJob fetches a claim's four photos and stores the model's report.
type DamageAssessJob struct {
	Claims       ClaimSource
	Assessor     Assessor
	Reports      ReportSaver
	ServiceToken string
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// NewDamageAssessJob wires dependencies for the assessment handler.
func NewDamageAssessJob(claims ClaimSource, assessor Assessor, reports ReportSaver, serviceToken string, logger *slog.Logger, metrics *jobmetrics.Metrics) *DamageAssessJob {
	return &DamageAssessJob{
		Claims:       claims,
		Assessor:     assessor,
		Reports:      reports,
		ServiceToken: serviceToken,
		Logger:       logger,
		Metrics:      metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ErrIncompletePhotos is returned when a claim lacks one of the four angles.
var ErrIncompletePhotos = errors.New("jobs: claim is missing required photos")

// Handle processes damage assessment tasks.
func (j *DamageAssessJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Claims == nil || j.Assessor == nil || j.Reports == nil {
		return errors.New("damage assess: handler not configured")
	}
	var payload AssessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ClaimID <= 0 {
		return fmt.Errorf("damage assess: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskDamageAssess)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int64("claim_id", payload.ClaimID))
	logger.Info("starting damage assessment")
	if j.ServiceToken != "" {
		ctx = backend.WithToken(ctx, j.ServiceToken)
	}

	claim, err := j.Claims.GetClaim(ctx, payload.ClaimID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			logger.Warn("claim vanished before assessment")
			return fmt.Errorf("damage assess: %w: %w", err, asynq.SkipRetry)
		}
		logger.Error("load claim", slog.Any("error", err))
		return err
	}

	photos, err := j.fetchPhotos(ctx, claim)
	if err != nil {
		logger.Error("fetch photos", slog.Any("error", err))
		if errors.Is(err, ErrIncompletePhotos) {
			return fmt.Errorf("damage assess: %w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	report, err := j.Assessor.Assess(ctx, damage.Request{
		Photos:   photos,
		CarBrand: claim.CarBrand,
		CarType:  claim.CarType,
	})
	if err != nil {
		logger.Error("assess damage", slog.Any("error", err))
		return err
	}

	if err := j.Reports.Save(ctx, damage.StoredReport{
		ClaimID:     claim.ID,
		RequestedBy: payload.RequestedBy,
		CreatedAt:   j.now(),
		Report:      *report,
	}); err != nil {
		logger.Error("save report", slog.Any("error", err))
		return err
	}

	level := report.Aggregated.Overall.OverallDamageLevel
	j.metrics().AddAssessment(level)
	logger.Info("completed damage assessment", slog.String("level", level), slog.Float64("estimated_cost", report.Cost.Details.TotalEstimatedCost))
	return nil
}

func (j *DamageAssessJob) fetchPhotos(ctx context.Context, claim *backend.Claim) (map[damage.Angle]damage.Photo, error) {
	images := make(map[damage.Angle]backend.ClaimImage, 4)
	for _, angle := range damage.Angles() {
		img, ok := claim.ImageByType(string(angle))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrIncompletePhotos, angle)
		}
		images[angle] = img
	}

	data := make([][]byte, len(damage.Angles()))
	g, gctx := errgroup.WithContext(ctx)
	for i, angle := range damage.Angles() {
		img := images[angle]
		g.Go(func() error {
			body, err := j.download(gctx, claim.ID, img)
			if err != nil {
				return fmt.Errorf("%s image: %w", angle, err)
			}
			data[i] = body
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	photos := make(map[damage.Angle]damage.Photo, 4)
	for i, angle := range damage.Angles() {
		name := images[angle].OriginalFilename
		if name == "" {
			name = string(angle) + "_image.jpg"
		}
		photos[angle] = damage.Photo{Filename: name, Data: data[i]}
	}
	return photos, nil
}

func (j *DamageAssessJob) download(ctx context.Context, claimID int64, img backend.ClaimImage) ([]byte, error) {
	res, err := j.Claims.ClaimImage(ctx, claimID, img.ID)
	if err != nil {
		return nil, err
	}
	if res.URL != "" {
		res, err = j.Claims.FetchURL(ctx, res.URL)
		if err != nil {
			return nil, err
		}
	}
	return res.Data, nil
}

func (j *DamageAssessJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DamageAssessJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *DamageAssessJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
