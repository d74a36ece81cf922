package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/config"
	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

const jsonContentType = "application/json"

type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Storage keeps the projects and overrides documents in object storage.
// Overrides move to Azure Tables and edits are announced on an Azure queue
// when those are configured.
type Storage struct {
	objects     objectAPI
	bucket      string
	projectsKey string
	statusKey   string

	overridesTable tableAPI
	changes        queueAPI

	// mu serialises read-modify-write cycles on the overrides document.
	mu     sync.Mutex
	logger *log.Logger
}

// New creates a Storage for the given configuration.
func New(cfg *config.Config, logger *log.Logger) (*Storage, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	endpoint := cfg.S3.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	client := s3.New(s3.Options{
		Region:           cfg.S3.Region,
		BaseEndpoint:     aws.String(endpoint),
		UsePathStyle:     true,
		RetryMaxAttempts: 3,
		Credentials:      credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
	})
	s := &Storage{
		objects:     client,
		bucket:      cfg.S3.Bucket,
		projectsKey: cfg.S3.ProjectsKey,
		statusKey:   cfg.S3.StatusKey,
		logger:      logger,
	}

	if cfg.Azure.ConnectionString != "" && cfg.Azure.OverridesTable != "" {
		table, err := newOverridesTable(cfg.Azure.ConnectionString, cfg.Azure.OverridesTable)
		if err != nil {
			return nil, fmt.Errorf("overrides table: %w", err)
		}
		s.overridesTable = table
	}
	if cfg.Azure.ConnectionString != "" && cfg.Azure.ChangesQueue != "" {
		queue, err := newChangesQueue(cfg.Azure.ConnectionString, cfg.Azure.ChangesQueue)
		if err != nil {
			return nil, fmt.Errorf("changes queue: %w", err)
		}
		s.changes = queue
	}
	return s, nil
}

// LoadProjects reads the projects document. A missing or corrupt document
// yields an empty list.
func (s *Storage) LoadProjects(ctx context.Context) ([]domain.Project, error) {
	data, err := s.getObject(ctx, s.projectsKey)
	if err != nil || data == nil {
		return []domain.Project{}, err
	}
	var projects []domain.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		s.logger.WithFields(log.Fields{"key": s.projectsKey, "error": err}).Error("Projects document is not valid JSON")
		return []domain.Project{}, nil
	}
	return projects, nil
}

// SaveProjects replaces the projects document.
func (s *Storage) SaveProjects(ctx context.Context, projects []domain.Project) error {
	if projects == nil {
		projects = []domain.Project{}
	}
	return s.putJSON(ctx, s.projectsKey, projects)
}

// LoadOverrides reads all status overrides.
func (s *Storage) LoadOverrides(ctx context.Context) (domain.Overrides, error) {
	if s.overridesTable != nil {
		return loadTableOverrides(ctx, s.overridesTable, s.logger)
	}
	return s.loadOverridesDocument(ctx)
}

// PutOverride stores the override for one project.
func (s *Storage) PutOverride(ctx context.Context, id string, o domain.StatusOverride) error {
	if s.overridesTable != nil {
		return putTableOverride(ctx, s.overridesTable, id, o)
	}
	return s.updateOverridesDocument(ctx, func(all domain.Overrides) {
		all[id] = o
	})
}

// DeleteOverride removes the override for one project. Deleting a missing
// override is not an error.
func (s *Storage) DeleteOverride(ctx context.Context, id string) error {
	if s.overridesTable != nil {
		return deleteTableOverride(ctx, s.overridesTable, id)
	}
	return s.updateOverridesDocument(ctx, func(all domain.Overrides) {
		delete(all, id)
	})
}

func (s *Storage) loadOverridesDocument(ctx context.Context) (domain.Overrides, error) {
	data, err := s.getObject(ctx, s.statusKey)
	if err != nil {
		return nil, err
	}
	overrides := domain.Overrides{}
	if data == nil {
		return overrides, nil
	}
	if err := json.Unmarshal(data, &overrides); err != nil {
		s.logger.WithFields(log.Fields{"key": s.statusKey, "error": err}).Error("Overrides document is not valid JSON")
		return domain.Overrides{}, nil
	}
	return overrides, nil
}

// updateOverridesDocument applies fn to the latest stored overrides and
// writes the result back.
func (s *Storage) updateOverridesDocument(ctx context.Context, fn func(domain.Overrides)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadOverridesDocument(ctx)
	if err != nil {
		return err
	}
	fn(all)
	return s.putJSON(ctx, s.statusKey, all)
}

func (s *Storage) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			s.logger.WithField("key", key).Debug("Object not found, treating as empty")
			return nil, nil
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

func (s *Storage) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(jsonContentType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
