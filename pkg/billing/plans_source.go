package billing

import (
	"context"
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticPlansSource serves a fixed plan list. Useful for tests and for
// applications that compile their catalog in.
type StaticPlansSource []Plan

func (s StaticPlansSource) Load(_ context.Context) ([]Plan, error) {
	return []Plan(s), nil
}

// FilePlansSource loads the plan catalog from a YAML file:
//
//	plans:
//	  - price_id: price_pro_monthly
//	    tier: pro
//	    name: Pro
//	    features: [api, export]
//	    public: true
type FilePlansSource struct {
	Path string
}

func (s FilePlansSource) Load(_ context.Context) ([]Plan, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	return doc.Plans, nil
}
