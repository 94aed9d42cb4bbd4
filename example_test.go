package flowbot_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/flowbot"
	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/protocol"
)

// ExampleNew demonstrates a bot activated and run fully in memory.
func ExampleNew() {
	// 1. Define the graph the way the editor saves it
	graph := &domain.Graph{
		ProcessID: "greeter",
		Nodes: []domain.Node{
			{ID: "start", Type: domain.NodeTypeStart, Data: &domain.StartData{}},
			{ID: "ask", Type: domain.NodeTypeOptions, Data: &domain.MenuData{
				Text: "Coffee or tea?",
				Options: []domain.MenuOption{
					{Label: "Coffee", Value: "coffee"},
					{Label: "Tea", Value: "tea"},
				},
			}},
			{ID: "coffee", Type: domain.NodeTypeMessage, Data: &domain.MessageData{Text: "Brewing coffee"}},
			{ID: "tea", Type: domain.NodeTypeMessage, Data: &domain.MessageData{Text: "Steeping tea"}},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", SourceHandle: "option-0", Target: "coffee"},
			{ID: "e3", Source: "ask", SourceHandle: "option-1", Target: "tea"},
		},
	}

	// 2. Activate it
	eng, err := flowbot.New()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if _, err := eng.Activate(ctx, graph); err != nil {
		log.Fatal(err)
	}

	// 3. Talk to it
	for _, text := range []string{"hi", "tea"} {
		env, err := eng.HandleTurn(ctx, "greeter", protocol.TurnRequest{Phone: "5511999990000", Text: text})
		if err != nil {
			log.Fatal(err)
		}
		for _, m := range env.Messages {
			if m.Type == domain.MessageText {
				fmt.Println(m.Text)
			}
		}
	}

	// Output:
	// Coffee or tea?
	// Steeping tea
}
