package logging

import (
	"fmt"

	"go.uber.org/zap"
)

type impl struct {
	name  string
	sugar *zap.SugaredLogger
}

func (imp *impl) Name() string {
	return imp.name
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}
	return &impl{name: newName, sugar: imp.sugar.Named(subname)}
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.sugar.Desugar()
}

func (imp *impl) Sync() error {
	return imp.sugar.Sync()
}

func (imp *impl) Debug(args ...interface{}) { imp.sugar.Debug(args...) }

func (imp *impl) Debugf(template string, args ...interface{}) { imp.sugar.Debugf(template, args...) }

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.sugar.Debugw(msg, keysAndValues...)
}

func (imp *impl) Info(args ...interface{}) { imp.sugar.Info(args...) }

func (imp *impl) Infof(template string, args ...interface{}) { imp.sugar.Infof(template, args...) }

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.sugar.Infow(msg, keysAndValues...)
}

func (imp *impl) Warn(args ...interface{}) { imp.sugar.Warn(args...) }

func (imp *impl) Warnf(template string, args ...interface{}) { imp.sugar.Warnf(template, args...) }

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.sugar.Warnw(msg, keysAndValues...)
}

func (imp *impl) Error(args ...interface{}) { imp.sugar.Error(args...) }

func (imp *impl) Errorf(template string, args ...interface{}) { imp.sugar.Errorf(template, args...) }

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.sugar.Errorw(msg, keysAndValues...)
}
