package request

type RegisterCluster struct {
	Name  string `json:"name" validate:"required,slug"`
	Score int    `json:"score" validate:"gte=0,lte=100"`
	State string `json:"state" validate:"omitempty,oneof=available cordoned draining"`
}

type SetClusterState struct {
	State string `json:"state" validate:"required,oneof=available cordoned draining deleted"`
}

type SetClusterScore struct {
	Score *int `json:"score" validate:"required,gte=0,lte=100"`
}
