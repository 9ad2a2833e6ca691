package api

import (
	"context"
	"net/http"
)

func (c *Client) Memberships(ctx context.Context) ([]UserMembership, error) {
	var memberships []UserMembership
	if err := c.get(ctx, "Memberships", RouteMemberships, nil, &memberships); err != nil {
		return nil, err
	}
	return memberships, nil
}

func (c *Client) CreateMembership(ctx context.Context, req CreateMembershipRequest) (string, error) {
	return c.text(ctx, "CreateMembership", http.MethodPost, RouteCreateMembership, nil, req)
}

func (c *Client) MembershipCount(ctx context.Context) (int, error) {
	var count int
	if err := c.get(ctx, "MembershipCount", RouteMembershipCount, nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Client) Instructions(ctx context.Context) ([]Instruction, error) {
	var instructions []Instruction
	if err := c.get(ctx, "Instructions", RouteInstructions, nil, &instructions); err != nil {
		return nil, err
	}
	return instructions, nil
}

func (c *Client) CreateInstruction(ctx context.Context, req CreateInstructionRequest) (string, error) {
	return c.text(ctx, "CreateInstruction", http.MethodPost, RouteCreateInstruction, nil, req)
}

func (c *Client) MarkInstructionPaid(ctx context.Context, id int) (string, error) {
	return c.text(ctx, "MarkInstructionPaid", http.MethodPut, RouteMarkInstructionPaid, nil, map[string]int{"id": id})
}

func (c *Client) InvestmentPlans(ctx context.Context) ([]InvestmentPlan, error) {
	var plans []InvestmentPlan
	if err := c.get(ctx, "InvestmentPlans", RouteInvestmentPlans, nil, &plans); err != nil {
		return nil, err
	}
	return plans, nil
}

func (c *Client) CreateInvestmentPlan(ctx context.Context, req CreateInvestmentPlanRequest) (string, error) {
	return c.text(ctx, "CreateInvestmentPlan", http.MethodPost, RouteCreateInvestmentPlan, nil, req)
}
