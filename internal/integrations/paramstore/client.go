package paramstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by SSM.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter.
// The LLM and web search clients depend on this interface so credentials can
// come from SSM in Lambda and from the environment on a workstation.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// SSM reads decrypted parameters from AWS Systems Manager.
type SSM struct {
	api ssmAPI
}

func NewSSM(api ssmAPI) (*SSM, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &SSM{api: api}, nil
}

func (s *SSM) GetParameter(ctx context.Context, name string) (string, error) {
	if s == nil || s.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// Env resolves parameter names through a fixed name -> environment variable
// table.
type Env struct {
	vars   map[string]string
	lookup func(string) (string, bool)
}

func NewEnv(vars map[string]string) *Env {
	return &Env{vars: vars, lookup: os.LookupEnv}
}

func (e *Env) GetParameter(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	key, ok := e.vars[name]
	if !ok {
		return "", fmt.Errorf("paramstore: no environment variable mapped for %q", name)
	}
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("paramstore: environment variable %s is not set", key)
	}
	return v, nil
}
