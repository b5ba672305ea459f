package plugin

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/joncooperworks/capscan/resident"
)

// ResidentModule is the name of the module holding the built-in plugins.
const ResidentModule = "capscan"

func init() {
	resident.Register(resident.Module{
		Name: ResidentModule,
		Kind: resident.Application,
		Types: []resident.Type{
			resident.Provide("InternalPluginOne", "Internal Plugin One", NewInternalPluginOne),
			resident.Provide("InternalPluginTwo", "Internal Plugin Two", NewInternalPluginTwo),
		},
	})
}

// InternalPluginOne is the built-in PluginOne.
type InternalPluginOne struct {
	logger *logrus.Logger
}

// NewInternalPluginOne logs through the standard logrus logger.
func NewInternalPluginOne() *InternalPluginOne {
	return &InternalPluginOne{logger: logrus.StandardLogger()}
}

func (p *InternalPluginOne) Name() string { return "Internal Plugin One" }

func (p *InternalPluginOne) DoTheThing(ctx context.Context) error {
	p.logger.WithField("plugin", p.Name()).Info("Doing the thing in Internal Plugin One!")
	return nil
}

// InternalPluginTwo is the built-in PluginTwo.
type InternalPluginTwo struct {
	logger *logrus.Logger
}

// NewInternalPluginTwo logs through the standard logrus logger.
func NewInternalPluginTwo() *InternalPluginTwo {
	return &InternalPluginTwo{logger: logrus.StandardLogger()}
}

func (p *InternalPluginTwo) Name() string { return "Internal Plugin Two" }

func (p *InternalPluginTwo) Execute(ctx context.Context) error {
	p.logger.WithField("plugin", p.Name()).Info("Execute in Internal Plugin Two!")
	return nil
}
