// Package network aggregates agents, merchants and teams into the node/edge
// view served at /network/graph.
package network

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
	"github.com/xela07ax/agentspend/internal/repository"
)

type Source interface {
	repository.AgentRepository
	repository.MerchantRepository
	repository.TeamRepository
	repository.TransactionRepository
	repository.EvaluationRepository
}

type Builder struct {
	src Source
}

func NewBuilder(src Source) *Builder {
	return &Builder{src: src}
}

// Build returns the graph visible to viewer: everything for an admin,
// otherwise the viewer's agents and teams plus every merchant.
func (b *Builder) Build(ctx context.Context, viewer domain.Actor) (*domain.NetworkGraph, error) {
	owner := viewer.UserID
	if viewer.IsAdmin() {
		owner = ""
	}

	agents, err := b.src.ListAgents(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	merchants, err := b.src.ListMerchants(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	teams, err := b.src.ListTeams(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	completed, err := b.src.ListTransactions(ctx, domain.TransactionFilter{Status: domain.TxCompleted})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	wins, err := b.src.WinCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("win counts: %w", err)
	}

	return assemble(agents, merchants, teams, completed, wins), nil
}

type spend struct {
	count int64
	sum   decimal.Decimal
}

func assemble(agents []*domain.Agent, merchants []*domain.Merchant, teams []*domain.Team,
	completed []*domain.Transaction, wins map[string]int64) *domain.NetworkGraph {
	g := &domain.NetworkGraph{Nodes: make([]domain.GraphNode, 0), Edges: make([]domain.GraphEdge, 0)}

	visible := make(map[string]bool, len(agents))
	for _, a := range agents {
		visible[a.ID] = true
	}

	memberOf := make(map[string][]*domain.Team)
	for _, t := range teams {
		for _, id := range t.MemberIDs {
			if visible[id] {
				memberOf[id] = append(memberOf[id], t)
			}
		}
	}

	perAgent := make(map[string]*spend)
	pairs := make(map[[2]string]int)
	for _, tx := range completed {
		if !visible[tx.AgentID] || tx.Refunded {
			continue
		}
		s, ok := perAgent[tx.AgentID]
		if !ok {
			s = &spend{}
			perAgent[tx.AgentID] = s
		}
		s.count++
		s.sum = s.sum.Add(tx.Amount)
		pairs[[2]string{tx.AgentID, tx.MerchantID}]++
	}

	for _, a := range agents {
		node := domain.GraphNode{
			ID:                a.ID,
			Label:             a.Name,
			Type:              domain.NodeAgent,
			Status:            string(a.Status),
			Tier:              a.Tier,
			FoundationalModel: a.FoundationalModel,
			Stats: &domain.AgentStats{
				TransactionCount: a.TransactionCount,
				WinCount:         wins[a.ID],
				AvgPrice:         decimal.Zero,
				RiskScore:        a.RiskScore,
			},
		}
		if s := perAgent[a.ID]; s != nil && s.count > 0 {
			node.Stats.AvgPrice = s.sum.Div(decimal.NewFromInt(s.count)).Round(2)
		}
		for _, t := range memberOf[a.ID] {
			node.TeamIDs = append(node.TeamIDs, t.ID)
			node.TeamNames = append(node.TeamNames, t.Name)
			node.TeamColors = append(node.TeamColors, t.Color)
		}
		g.Nodes = append(g.Nodes, node)
	}

	known := make(map[string]bool, len(merchants))
	for _, m := range merchants {
		known[m.ID] = true
		g.Nodes = append(g.Nodes, domain.GraphNode{
			ID:         m.ID,
			Label:      m.Name,
			Type:       domain.NodeMerchant,
			Status:     string(m.Status),
			TrustScore: m.TrustScore,
		})
	}

	g.Edges = append(g.Edges, teamEdges(agents, memberOf)...)

	txEdges := make([]domain.GraphEdge, 0, len(pairs))
	for p, n := range pairs {
		if !known[p[1]] {
			continue
		}
		txEdges = append(txEdges, domain.GraphEdge{Source: p[0], Target: p[1], EdgeType: domain.EdgeTransaction, Weight: n})
	}
	sortEdges(txEdges)
	g.Edges = append(g.Edges, txEdges...)
	return g
}

// teamEdges links every pair of agents sharing at least one team.
func teamEdges(agents []*domain.Agent, memberOf map[string][]*domain.Team) []domain.GraphEdge {
	edges := make([]domain.GraphEdge, 0)
	for i := 0; i < len(agents); i++ {
		left := memberOf[agents[i].ID]
		if len(left) == 0 {
			continue
		}
		for j := i + 1; j < len(agents); j++ {
			shared := 0
			for _, t := range left {
				if t.HasMember(agents[j].ID) {
					shared++
				}
			}
			if shared > 0 {
				edges = append(edges, domain.GraphEdge{
					Source: agents[i].ID, Target: agents[j].ID, EdgeType: domain.EdgeTeam, Weight: shared,
				})
			}
		}
	}
	sortEdges(edges)
	return edges
}

func sortEdges(edges []domain.GraphEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
}
