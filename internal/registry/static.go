package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edvin/wsbridge/internal/model"
)

type staticClustersFile struct {
	Clusters []staticCluster `yaml:"clusters"`
}

type staticCluster struct {
	Name  string `yaml:"name"`
	Score int    `yaml:"score"`
	State string `yaml:"state"`
}

// StaticClustersFromFile reads a YAML bootstrap file of clusters to register
// at startup.
func StaticClustersFromFile(path string) ([]model.WorkspaceCluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static clusters file: %w", err)
	}

	var file staticClustersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse static clusters file: %w", err)
	}

	clusters := make([]model.WorkspaceCluster, 0, len(file.Clusters))
	for _, c := range file.Clusters {
		if c.Name == "" {
			return nil, fmt.Errorf("static clusters file: cluster with empty name")
		}
		state := model.ClusterState(c.State)
		if c.State == "" {
			state = model.ClusterAvailable
		}
		if !model.ValidClusterState(state) || state == model.ClusterDeleted {
			return nil, fmt.Errorf("static clusters file: cluster %s has invalid state %q", c.Name, c.State)
		}
		clusters = append(clusters, model.WorkspaceCluster{
			Name:  c.Name,
			Score: c.Score,
			State: state,
		})
	}
	return clusters, nil
}
