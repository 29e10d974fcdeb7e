package ml

import (
	"github.com/rotisserie/eris"
)

// NewModel returns an untrained model of the given type.
func NewModel(modelType string, forest ForestParams) (Regressor, error) {
	switch modelType {
	case ModelTypeDecisionTree:
		return NewRegressionTree(forest.TreeParams()), nil
	case ModelTypeRandomForest, "":
		return NewRandomForest(forest), nil
	default:
		return nil, eris.Errorf("unsupported model type %q", modelType)
	}
}

func LoadModel(modelType, path string) (Regressor, error) {
	var model Regressor
	switch modelType {
	case ModelTypeDecisionTree:
		model = &RegressionTree{}
	case ModelTypeRandomForest, "":
		model = &RandomForest{}
	default:
		return nil, eris.Errorf("unsupported model type %q", modelType)
	}
	if err := model.Load(path); err != nil {
		return nil, err
	}
	return model, nil
}
