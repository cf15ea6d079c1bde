package domain

import "github.com/shopspring/decimal"

type NodeType string

const (
	NodeAgent    NodeType = "agent"
	NodeMerchant NodeType = "merchant"
)

type EdgeType string

const (
	EdgeTeam        EdgeType = "team"
	EdgeTransaction EdgeType = "transaction"
)

type AgentStats struct {
	TransactionCount int64           `json:"transaction_count"`
	WinCount         int64           `json:"win_count"`
	AvgPrice         decimal.Decimal `json:"avg_price"`
	RiskScore        int             `json:"risk_score"`
}

type GraphNode struct {
	ID     string   `json:"id"`
	Label  string   `json:"label"`
	Type   NodeType `json:"node_type"`
	Status string   `json:"status"`

	// agent nodes
	Tier              Tier        `json:"tier,omitempty"`
	FoundationalModel string      `json:"foundational_model,omitempty"`
	TeamIDs           []string    `json:"team_ids,omitempty"`
	TeamNames         []string    `json:"team_names,omitempty"`
	TeamColors        []string    `json:"team_colors,omitempty"`
	Stats             *AgentStats `json:"stats,omitempty"`

	// merchant nodes
	TrustScore int `json:"trust_score,omitempty"`
}

type GraphEdge struct {
	Source   string   `json:"source"`
	Target   string   `json:"target"`
	EdgeType EdgeType `json:"edge_type"`
	Weight   int      `json:"weight"`
}

type NetworkGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}
